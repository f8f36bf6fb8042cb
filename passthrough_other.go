//go:build !((darwin || freebsd || linux) && (amd64 || arm64))

package layershim

// LoadPassthrough is not supported on this platform.
func (l *Layer) LoadPassthrough(name string, versions ...int) error {
	return ErrNoPassthrough
}
