// Package handles provides a thread-safe handle table for Go objects that
// have to be referenced by opaque integer handles.
//
// Foreign code cannot hold Go pointers. Instead, we register the Go object
// and get back a uintptr handle that can be stored in foreign memory, passed
// as callback user data, or used as a synthetic dispatchable object handle.
//
// Handles are never reused within one Table, and 0 is never a valid handle.
package handles

import (
	"sync"
	"sync/atomic"
)

const numShards = 64

type shard struct {
	mu      sync.RWMutex
	handles map[uintptr]any
}

// Table maps handles to Go objects. The zero value is not usable; call NewTable.
type Table struct {
	shards [numShards]shard
	next   atomic.Uintptr
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].handles = make(map[uintptr]any)
	}
	return t
}

func (t *Table) shard(id uintptr) *shard {
	return &t.shards[id%numShards]
}

// Register stores a Go object and returns a handle ID.
// The object will remain accessible until Unregister is called.
//
// Thread-safe.
func (t *Table) Register(v any) uintptr {
	id := t.next.Add(1)
	s := t.shard(id)
	s.mu.Lock()
	s.handles[id] = v
	s.mu.Unlock()
	return id
}

// Lookup retrieves a Go object by its handle ID.
// Returns nil if the handle is not registered.
//
// Thread-safe.
func (t *Table) Lookup(id uintptr) any {
	if id == 0 {
		return nil
	}
	s := t.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[id]
}

// Unregister removes a handle and returns the object that was stored,
// or nil if the handle was not registered.
//
// Thread-safe.
func (t *Table) Unregister(id uintptr) any {
	if id == 0 {
		return nil
	}
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.handles[id]
	delete(s.handles, id)
	return v
}

// Count returns the number of currently registered handles.
// Useful for debugging and testing leaks.
func (t *Table) Count() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.handles)
		s.mu.RUnlock()
	}
	return n
}

// LookupAs retrieves a handle and type-asserts it to T.
// Returns (value, true) on success, (zero, false) if not found or wrong type.
func LookupAs[T any](t *Table, id uintptr) (T, bool) {
	v, ok := t.Lookup(id).(T)
	return v, ok
}
