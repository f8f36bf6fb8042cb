package registry

import (
	"context"
	"sync"
)

// DefaultWaitSlots is the wait slot pool capacity used when none is configured.
const DefaultWaitSlots = 64

// Slot is a token for one acquisition of a wait slot. The index wraps modulo
// the pool capacity; the generation tells two acquisitions of the same index
// apart, so a stale Signal never wakes waiters of an unrelated key.
type Slot struct {
	Index int
	Gen   uint64
	done  chan struct{}
}

// Wait blocks until the slot is signaled or ctx is done.
func (s Slot) Wait(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signaled reports whether the slot has been signaled, without blocking.
func (s Slot) Signaled() bool {
	if s.done == nil {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type waitSlot struct {
	busy bool
	gen  uint64
	done chan struct{}
}

// WaitSlotPool is a fixed-size pool of binary wait/notify signals.
//
// An acquired slot stays busy until it is signaled. Signaling wakes every
// waiter holding the slot's token and returns the index to the pool.
type WaitSlotPool struct {
	mu    sync.Mutex
	slots []waitSlot
	next  int
	inUse int
	gen   uint64
}

// NewWaitSlotPool creates a pool. If capacity <= 0, DefaultWaitSlots is used.
func NewWaitSlotPool(capacity int) *WaitSlotPool {
	if capacity <= 0 {
		capacity = DefaultWaitSlots
	}
	return &WaitSlotPool{slots: make([]waitSlot, capacity)}
}

// Acquire reserves the next free slot. Returns a *CapacityError if every slot is busy.
func (p *WaitSlotPool) Acquire() (Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.slots)
	if p.inUse >= n {
		return Slot{}, &CapacityError{Resource: "wait slots", Capacity: n}
	}
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		ws := &p.slots[idx]
		if ws.busy {
			continue
		}
		p.gen++
		ws.busy = true
		ws.gen = p.gen
		ws.done = make(chan struct{})
		p.inUse++
		p.next = (idx + 1) % n
		return Slot{Index: idx, Gen: ws.gen, done: ws.done}, nil
	}
	// inUse said otherwise; bookkeeping is corrupt.
	panic("registry: wait slot pool bookkeeping out of sync")
}

// Signal wakes all waiters on s and frees its index. It returns false if s
// is stale (already signaled, or the index was reacquired since).
func (p *WaitSlotPool) Signal(s Slot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Index < 0 || s.Index >= len(p.slots) {
		return false
	}
	ws := &p.slots[s.Index]
	if !ws.busy || ws.gen != s.Gen {
		return false
	}
	close(ws.done)
	ws.busy = false
	ws.done = nil
	p.inUse--
	return true
}

// InUse returns the number of slots currently acquired.
func (p *WaitSlotPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Cap returns the pool capacity.
func (p *WaitSlotPool) Cap() int {
	return len(p.slots)
}
