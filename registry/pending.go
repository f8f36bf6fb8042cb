package registry

import "sync"

// DefaultPendingCapacity is the pending log capacity used when none is configured.
const DefaultPendingCapacity = 64

type pendingRecord[K comparable] struct {
	key     K
	slot    Slot
	waiters int
}

// PendingLog is a small bounded log of keys that lookups are waiting on.
// Each record pairs a key with the wait slot assigned to it. The first
// lookup for a key allocates the slot; later lookups share it.
//
// The log has its own mutex so joining never needs the registry's
// structural lock for writing.
type PendingLog[K comparable] struct {
	mu      sync.Mutex
	pool    *WaitSlotPool
	records []pendingRecord[K]
	limit   int
}

// NewPendingLog creates a log drawing slots from pool. If capacity <= 0,
// DefaultPendingCapacity is used.
func NewPendingLog[K comparable](pool *WaitSlotPool, capacity int) *PendingLog[K] {
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	return &PendingLog[K]{
		pool:    pool,
		records: make([]pendingRecord[K], 0, capacity),
		limit:   capacity,
	}
}

func (l *PendingLog[K]) find(key K) int {
	for i := range l.records {
		if l.records[i].key == key {
			return i
		}
	}
	return -1
}

func (l *PendingLog[K]) drop(i int) {
	last := len(l.records) - 1
	l.records[i] = l.records[last]
	l.records[last] = pendingRecord[K]{}
	l.records = l.records[:last]
}

// Join registers the caller as a waiter for key and returns the slot to
// wait on. Exactly one caller per outstanding key allocates the slot.
func (l *PendingLog[K]) Join(key K) (Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.find(key); i >= 0 {
		l.records[i].waiters++
		return l.records[i].slot, nil
	}
	if len(l.records) >= l.limit {
		return Slot{}, &CapacityError{Resource: "pending log", Capacity: l.limit}
	}
	slot, err := l.pool.Acquire()
	if err != nil {
		return Slot{}, err
	}
	l.records = append(l.records, pendingRecord[K]{key: key, slot: slot, waiters: 1})
	return slot, nil
}

// Take retires the record for key and returns its slot and waiter count.
// The caller must signal the slot once it no longer holds the structural lock.
func (l *PendingLog[K]) Take(key K) (Slot, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(key)
	if i < 0 {
		return Slot{}, 0, false
	}
	rec := l.records[i]
	l.drop(i)
	return rec.slot, rec.waiters, true
}

// Leave withdraws one waiter that gave up on slot. When the last waiter
// leaves before the key is published, the record is retired and the slot
// returned to the pool.
func (l *PendingLog[K]) Leave(key K, slot Slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.find(key)
	if i < 0 || l.records[i].slot.Gen != slot.Gen {
		return
	}
	l.records[i].waiters--
	if l.records[i].waiters > 0 {
		return
	}
	l.drop(i)
	l.pool.Signal(slot)
}

// Has reports whether a lookup is currently waiting on key.
func (l *PendingLog[K]) Has(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.find(key) >= 0
}

// Len returns the number of keys with waiting lookups.
func (l *PendingLog[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
