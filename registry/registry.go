package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/obinnaokechukwu/layershim/observability"
)

// Registry is a keyed store of payloads that lets one goroutine publish a
// payload for a freshly created object while others are already looking it up.
//
// Lock order: access (PolicyExclusive only), then mu, then the pending log,
// then the slot pool. Nothing blocks on a wait slot while holding any of them.
type Registry[K comparable, V any] struct {
	access   sync.Mutex
	mu       sync.RWMutex
	entries  map[K]*entry[V]
	inflight map[K]*Creation[K, V]
	closed   bool

	slots   *WaitSlotPool
	pending *PendingLog[K]

	name          string
	policy        Policy
	waitTimeout   time.Duration
	destroy       func(K, V)
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	panicOnMisuse bool
}

// New creates an empty registry.
func New[K comparable, V any](opts ...Option) *Registry[K, V] {
	s := settings{
		name:        "registry",
		waitTimeout: DefaultWaitTimeout,
		policy:      PolicyShared,
	}
	for _, opt := range opts {
		opt(&s)
	}

	var destroy func(K, V)
	if s.destroy != nil {
		fn, ok := s.destroy.(func(K, V))
		if !ok {
			var k K
			var v V
			panic(fmt.Sprintf("registry: destroy callback %T does not match Registry[%T, %T]", s.destroy, k, v))
		}
		destroy = fn
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
	}

	slots := NewWaitSlotPool(s.waitSlots)
	return &Registry[K, V]{
		entries:       make(map[K]*entry[V]),
		inflight:      make(map[K]*Creation[K, V]),
		slots:         slots,
		pending:       NewPendingLog[K](slots, s.pendingCap),
		name:          s.name,
		policy:        s.policy,
		waitTimeout:   s.waitTimeout,
		destroy:       destroy,
		logger:        observability.EnrichRegistryLogger(s.logger, s.name),
		metrics:       s.metrics,
		spans:         s.spans,
		panicOnMisuse: s.panicOnMisuse,
	}
}

// Name returns the registry name.
func (r *Registry[K, V]) Name() string {
	return r.name
}

// Policy returns the handle ownership policy.
func (r *Registry[K, V]) Policy() Policy {
	return r.policy
}

// Len returns the number of published entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Pending returns the number of keys that lookups are waiting on.
func (r *Registry[K, V]) Pending() int {
	return r.pending.Len()
}

// Reserve announces that the object identified by key exists and its payload
// is being built. Lookups for a reserved key wait for Publish or Abort
// instead of reporting it absent.
func (r *Registry[K, V]) Reserve(key K) (*Creation[K, V], error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return nil, r.misuse("reserve", key, ErrAlreadyExists)
	}
	if _, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		return nil, r.misuse("reserve", key, ErrDuplicateCreate)
	}
	c := &Creation[K, V]{reg: r, key: key}
	r.inflight[key] = c
	r.mu.Unlock()
	return c, nil
}

// Create publishes value under key and returns a handle to it.
// It is Reserve followed by Publish.
func (r *Registry[K, V]) Create(ctx context.Context, key K, value V) (*Handle[K, V], error) {
	c, err := r.Reserve(key)
	if err != nil {
		return nil, err
	}
	return c.Publish(ctx, value)
}

// Get returns a handle for key. A nil handle with a nil error means key is
// neither published nor reserved.
//
// If key is reserved but not yet published, Get waits without holding any
// registry lock until the creation publishes or aborts, ctx is done, or the
// wait timeout passes (a *StuckError).
func (r *Registry[K, V]) Get(ctx context.Context, key K) (*Handle[K, V], error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[key]; ok {
		if r.policy == PolicyShared {
			e.refs.Add(1)
			r.mu.RUnlock()
			r.metrics.RecordLookup(ctx, r.name, observability.OutcomeHit)
			return &Handle[K, V]{reg: r, key: key, entry: e}, nil
		}
		r.mu.RUnlock()
		return r.acquire(ctx, key, observability.OutcomeHit)
	}
	if _, ok := r.inflight[key]; !ok {
		r.mu.RUnlock()
		r.metrics.RecordLookup(ctx, r.name, observability.OutcomeAbsent)
		return nil, nil
	}

	// Joining under the read lock orders us before Publish, which needs the
	// write lock to retire the record.
	slot, err := r.pending.Join(key)
	r.mu.RUnlock()
	if err != nil {
		var ce *CapacityError
		resource := "unknown"
		if errors.As(err, &ce) {
			resource = ce.Resource
		}
		observability.LogCapacityExhausted(r.logger, keyString(key), resource, err)
		r.metrics.RecordCapacityExhausted(ctx, r.name, resource)
		return nil, err
	}

	if err := r.wait(ctx, key, slot); err != nil {
		return nil, err
	}
	return r.acquire(ctx, key, observability.OutcomeWaited)
}

// Remove deletes the published payload for key and reports whether there was one.
// The destroy callback runs once the last handle is released.
func (r *Registry[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	if r.policy == PolicyExclusive {
		r.access.Lock()
		defer r.access.Unlock()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrClosed
	}
	if _, ok := r.inflight[key]; ok && r.pending.Has(key) {
		r.mu.Unlock()
		return false, r.misuse("remove", key, ErrPendingWait)
	}
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.unref(key, e)
	r.metrics.RecordRemove(ctx, r.name)
	return true, nil
}

// Close tears the registry down. Outstanding creations are aborted, which
// wakes their waiters with absent, and every payload is removed.
func (r *Registry[K, V]) Close() error {
	if r.policy == PolicyExclusive {
		r.access.Lock()
		defer r.access.Unlock()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var woken []Slot
	for key, c := range r.inflight {
		c.done = true
		if slot, _, ok := r.pending.Take(key); ok {
			woken = append(woken, slot)
		}
	}
	clear(r.inflight)
	entries := r.entries
	r.entries = make(map[K]*entry[V])
	r.mu.Unlock()

	for _, slot := range woken {
		r.slots.Signal(slot)
	}
	for key, e := range entries {
		r.unref(key, e)
	}
	if r.logger != nil {
		r.logger.Debug("registry closed",
			slog.Int("entries", len(entries)),
			slog.Int("aborted_waits", len(woken)),
		)
	}
	return nil
}

// acquire re-checks the map after a wait (or for PolicyExclusive, after the
// probe) and returns a handle according to the policy.
func (r *Registry[K, V]) acquire(ctx context.Context, key K, outcome string) (*Handle[K, V], error) {
	if r.policy == PolicyExclusive {
		r.access.Lock()
	}
	r.mu.RLock()
	e, ok := r.entries[key]
	if ok && r.policy == PolicyShared {
		e.refs.Add(1)
	}
	r.mu.RUnlock()

	if !ok {
		if r.policy == PolicyExclusive {
			r.access.Unlock()
		}
		r.metrics.RecordLookup(ctx, r.name, observability.OutcomeAbsent)
		return nil, nil
	}
	r.metrics.RecordLookup(ctx, r.name, outcome)
	return &Handle[K, V]{reg: r, key: key, entry: e}, nil
}

func (r *Registry[K, V]) wait(ctx context.Context, key K, slot Slot) error {
	ks := keyString(key)
	start := time.Now()
	ctx, span := r.spans.StartWaitSpan(ctx, r.name, ks)
	observability.LogWaitStart(r.logger, ks, slot.Index)

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.waitTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, r.waitTimeout)
	}
	err := slot.Wait(waitCtx)
	cancel()
	waited := time.Since(start)

	if err != nil && slot.Signaled() {
		err = nil
	}
	if err != nil {
		r.pending.Leave(key, slot)
		outcome := observability.OutcomeCanceled
		if ctx.Err() == nil {
			err = &StuckError{Key: ks, Waited: waited}
			outcome = observability.OutcomeStuck
			observability.LogStuck(r.logger, ks, waited)
		}
		r.metrics.RecordWait(ctx, r.name, waited, outcome)
		r.spans.EndSpanWithError(span, err)
		return err
	}

	observability.LogWaitComplete(r.logger, ks, waited)
	r.metrics.RecordWait(ctx, r.name, waited, observability.OutcomeSignaled)
	r.spans.EndSpanWithError(span, nil)
	return nil
}

func (r *Registry[K, V]) unref(key K, e *entry[V]) {
	if e.refs.Add(-1) == 0 && r.destroy != nil {
		r.destroy(key, e.value)
	}
}

func (r *Registry[K, V]) misuse(op string, key K, err error) error {
	wrapped := fmt.Errorf("%s %s: %w", op, keyString(key), err)
	observability.LogMisuse(r.logger, op, keyString(key), err)
	if r.panicOnMisuse {
		panic(wrapped)
	}
	return wrapped
}

func keyString(key any) string {
	switch k := key.(type) {
	case uintptr:
		return fmt.Sprintf("%#x", k)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(k)
	}
}
