//go:build (darwin || freebsd || linux) && (amd64 || arm64)

package layershim

import (
	"github.com/obinnaokechukwu/layershim/internal/loader"
	"github.com/obinnaokechukwu/layershim/observability"
)

// LoadPassthrough opens the library named by next.library in the layer's
// config (or name, if not empty) and forwards calls on objects without a
// table to it.
func (l *Layer) LoadPassthrough(name string, versions ...int) error {
	var paths []string
	if l.cfg != nil {
		if name == "" {
			name = l.cfg.String("next.library", "")
		}
		if len(versions) == 0 {
			versions = l.cfg.IntSlice("next.versions", nil)
		}
		paths = l.cfg.StringSlice("next.search_paths", nil)
	}
	if name == "" {
		return loader.ErrLibraryNotFound
	}
	lib, err := loader.Open(name, versions, paths...)
	if err != nil {
		return err
	}
	l.SetPassthrough(lib.ProcAddr(), lib)
	observability.LogPassthroughLoaded(l.logger, lib.Name(), lib.Path())
	return nil
}
