//go:build (darwin || freebsd || linux) && (amd64 || arm64)

// Package loader opens the library a layer forwards to (the next layer or the
// driver) and resolves its entry points using purego.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/layershim/dispatch"
	"github.com/obinnaokechukwu/layershim/internal/platform"
)

// ErrLibraryNotFound is returned when a library cannot be found or opened.
var ErrLibraryNotFound = errors.New("layershim: library not found")

// ErrSymbolNotFound is returned when a library does not export a symbol.
var ErrSymbolNotFound = errors.New("layershim: symbol not found")

// ErrClosed is returned when a closed library is used.
var ErrClosed = errors.New("layershim: library closed")

// Library is an opened shared library.
type Library struct {
	name string
	path string

	mu     sync.RWMutex
	handle uintptr
}

// Open loads a library. name may be a path, in which case it is opened
// directly; otherwise versioned names are tried in each search path, then
// the unversioned name, and finally the bare names so the dynamic linker
// can find it.
func Open(name string, versions []int, extraPaths ...string) (*Library, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		handle, err := tryOpen(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLibraryNotFound, name, err)
		}
		return &Library{name: filepath.Base(name), path: name, handle: handle}, nil
	}

	for _, dir := range platform.SearchPaths(extraPaths...) {
		for _, libName := range candidates(name, versions) {
			fullPath := filepath.Join(dir, libName)
			if handle, err := tryOpen(fullPath); err == nil {
				return &Library{name: name, path: fullPath, handle: handle}, nil
			}
		}
	}

	// Let the system find it.
	for _, libName := range candidates(name, versions) {
		if handle, err := tryOpen(libName); err == nil {
			return &Library{name: name, path: libName, handle: handle}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, name)
}

// Find searches for a library and returns its full path without opening it.
// This is useful for diagnostics.
func Find(name string, versions []int, extraPaths ...string) (string, error) {
	for _, dir := range platform.SearchPaths(extraPaths...) {
		for _, libName := range candidates(name, versions) {
			fullPath := filepath.Join(dir, libName)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, name)
}

// candidates returns versioned names first (more specific), then the
// unversioned name.
func candidates(name string, versions []int) []string {
	names := make([]string, 0, len(versions)+1)
	for _, ver := range versions {
		if ver > 0 {
			names = append(names, platform.FormatLibraryName(name, ver))
		}
	}
	return append(names, platform.FormatLibraryName(name, 0))
}

// tryOpen opens a library with RTLD_NOW | RTLD_GLOBAL so that later layers
// in the chain can resolve symbols against it.
func tryOpen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

// Name returns the name the library was opened by.
func (l *Library) Name() string {
	return l.name
}

// Path returns the path the library was loaded from.
func (l *Library) Path() string {
	return l.path
}

// Sym returns the address of symbol.
func (l *Library) Sym(symbol string) (uintptr, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.handle == 0 {
		return 0, ErrClosed
	}
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, symbol, l.name)
	}
	return addr, nil
}

// Proc returns symbol as a callable entry point.
func (l *Library) Proc(symbol string) (dispatch.Proc, error) {
	addr, err := l.Sym(symbol)
	if err != nil {
		return nil, err
	}
	return dispatch.CProc(addr), nil
}

// ProcAddr returns a resolver that looks names up by symbol, ignoring the
// object. It is used for passthrough when the library is the driver itself.
func (l *Library) ProcAddr() dispatch.ProcAddrFunc {
	return func(_ uintptr, name string) dispatch.Proc {
		p, err := l.Proc(name)
		if err != nil {
			return nil
		}
		return p
	}
}

// Register binds symbol to the Go function pointed to by fptr.
// A missing symbol is returned as an error instead of a panic.
func (l *Library) Register(fptr any, symbol string) (err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.handle == 0 {
		return ErrClosed
	}
	defer func() {
		if r := recover(); r != nil { // purego.RegisterLibFunc panics if symbol is missing
			err = fmt.Errorf("%w: %s in %s: %v", ErrSymbolNotFound, symbol, l.name, r)
		}
	}()
	purego.RegisterLibFunc(fptr, l.handle, symbol)
	return nil
}

// Close unloads the library. Calling it more than once is a no-op.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}
