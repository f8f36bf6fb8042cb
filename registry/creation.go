package registry

import (
	"context"
	"log/slog"
)

// Creation is an outstanding reservation for one key. Exactly one of
// Publish or Abort must be called.
type Creation[K comparable, V any] struct {
	reg *Registry[K, V]
	key K
	// done is guarded by reg.mu.
	done bool
}

// Key returns the reserved key.
func (c *Creation[K, V]) Key() K {
	return c.key
}

// Publish stores value under the reserved key, wakes every lookup waiting on
// it and returns a handle to the published payload.
//
// The wait slot is signaled after the structural lock is released, so woken
// lookups never immediately block on a lock the publisher still holds.
func (c *Creation[K, V]) Publish(ctx context.Context, value V) (*Handle[K, V], error) {
	r := c.reg
	e := &entry[V]{value: value}
	e.refs.Store(1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if c.done {
		r.mu.Unlock()
		return nil, r.misuse("publish", c.key, ErrCreationClosed)
	}
	c.done = true
	delete(r.inflight, c.key)
	r.entries[c.key] = e
	if r.policy == PolicyShared {
		e.refs.Add(1)
	}
	slot, waiters, woken := r.pending.Take(c.key)
	r.mu.Unlock()

	if woken {
		r.slots.Signal(slot)
		if r.logger != nil {
			r.logger.Debug("woke waiting lookups",
				slog.String("key", keyString(c.key)),
				slog.Int("slot", slot.Index),
				slog.Int("waiters", waiters),
			)
		}
	}
	r.metrics.RecordCreate(ctx, r.name)

	if r.policy == PolicyShared {
		return &Handle[K, V]{reg: r, key: c.key, entry: e}, nil
	}

	r.access.Lock()
	r.mu.RLock()
	current := r.entries[c.key]
	r.mu.RUnlock()
	if current != e {
		// Removed by someone else between publishing and locking.
		r.access.Unlock()
		return nil, nil
	}
	return &Handle[K, V]{reg: r, key: c.key, entry: e}, nil
}

// Abort withdraws the reservation. Lookups waiting on the key wake up and
// report it absent.
func (c *Creation[K, V]) Abort() error {
	r := c.reg
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if c.done {
		r.mu.Unlock()
		return r.misuse("abort", c.key, ErrCreationClosed)
	}
	c.done = true
	delete(r.inflight, c.key)
	slot, _, woken := r.pending.Take(c.key)
	r.mu.Unlock()

	if woken {
		r.slots.Signal(slot)
	}
	if r.logger != nil {
		r.logger.Debug("creation aborted", slog.String("key", keyString(c.key)))
	}
	return nil
}
