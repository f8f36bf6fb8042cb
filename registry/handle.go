package registry

import "sync/atomic"

type entry[V any] struct {
	value V
	// refs counts the registry's own reference plus every live shared handle.
	refs atomic.Int64
}

// Handle is a short-lived accessor for a published payload. A nil *Handle
// means the key was absent; every method is safe to call on nil.
//
// Under PolicyShared the handle holds a reference that keeps a removed
// payload alive until Release. Under PolicyExclusive it holds the registry's
// access lock until Release, so it must not be kept across calls back into
// the same registry.
type Handle[K comparable, V any] struct {
	reg      *Registry[K, V]
	key      K
	entry    *entry[V]
	released atomic.Bool
}

// Has reports whether the handle refers to a payload.
func (h *Handle[K, V]) Has() bool {
	return h != nil && h.entry != nil
}

// Key returns the key the handle was obtained for.
func (h *Handle[K, V]) Key() K {
	if h == nil {
		var zero K
		return zero
	}
	return h.key
}

// Value returns the payload. The payload is borrowed: it stays owned by the
// registry and must not be used after Release.
func (h *Handle[K, V]) Value() V {
	if !h.Has() {
		var zero V
		return zero
	}
	return h.entry.value
}

// Release gives up the handle. Calling it more than once is a no-op.
func (h *Handle[K, V]) Release() {
	if !h.Has() || !h.released.CompareAndSwap(false, true) {
		return
	}
	switch h.reg.policy {
	case PolicyExclusive:
		h.reg.access.Unlock()
	default:
		h.reg.unref(h.key, h.entry)
	}
}
