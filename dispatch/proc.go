// Package dispatch holds per-object dispatch tables: the entry points of the
// next layer (or driver) resolved for one instance or device, stored in a
// registry keyed by the object's handle.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoProc indicates the next layer does not expose the requested function.
var ErrNoProc = errors.New("dispatch: function not available in next layer")

// Proc is a resolved entry point of the next layer.
type Proc interface {
	Call(args ...uintptr) uintptr
}

// ProcFunc adapts a Go function to Proc.
type ProcFunc func(args ...uintptr) uintptr

// Call calls f.
func (f ProcFunc) Call(args ...uintptr) uintptr {
	return f(args...)
}

// ProcAddrFunc resolves name for object the way GetInstanceProcAddr and
// GetDeviceProcAddr do. It returns nil for unknown functions.
type ProcAddrFunc func(object uintptr, name string) Proc

// Kind is the kind of dispatchable object a table is keyed by.
type Kind int

const (
	KindInstance Kind = iota
	KindPhysicalDevice
	KindDevice
	KindQueue
	KindCommandBuffer

	numKinds = iota
)

// String returns the kind name used for registry names and logs.
func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindPhysicalDevice:
		return "physical_device"
	case KindDevice:
		return "device"
	case KindQueue:
		return "queue"
	case KindCommandBuffer:
		return "command_buffer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Owning reports whether tables of this kind are built for the object
// itself. Other kinds alias the table of their parent.
func (k Kind) Owning() bool {
	return k == KindInstance || k == KindDevice
}

// Parent returns the owning kind an alias kind borrows its table from.
func (k Kind) Parent() Kind {
	switch k {
	case KindPhysicalDevice:
		return KindInstance
	case KindQueue, KindCommandBuffer:
		return KindDevice
	default:
		return k
	}
}

// Child is an alias object registered under a table.
type Child struct {
	Kind   Kind
	Object uintptr
}

// Table is the dispatch table for one instance or device.
//
// Names given to NewTable are resolved eagerly. Other names are resolved on
// first use and cached, which is how the next layer's own extension entry
// points are reached.
type Table struct {
	kind    Kind
	object  uintptr
	resolve ProcAddrFunc

	mu       sync.RWMutex
	procs    map[string]Proc
	missing  map[string]struct{}
	children map[Child]struct{}
}

// NewTable resolves names for object through resolve.
func NewTable(kind Kind, object uintptr, resolve ProcAddrFunc, names []string) *Table {
	t := &Table{
		kind:     kind,
		object:   object,
		resolve:  resolve,
		procs:    make(map[string]Proc, len(names)),
		missing:  make(map[string]struct{}),
		children: make(map[Child]struct{}),
	}
	for _, name := range names {
		t.lookup(name)
	}
	return t
}

// Kind returns the kind of object the table was built for.
func (t *Table) Kind() Kind {
	return t.kind
}

// Object returns the handle of the object the table was built for.
func (t *Table) Object() uintptr {
	return t.object
}

// Proc returns the next layer's entry point for name.
func (t *Table) Proc(name string) (Proc, bool) {
	t.mu.RLock()
	p, ok := t.procs[name]
	_, miss := t.missing[name]
	t.mu.RUnlock()
	if ok {
		return p, true
	}
	if miss {
		return nil, false
	}
	p = t.lookup(name)
	return p, p != nil
}

func (t *Table) lookup(name string) Proc {
	var p Proc
	if t.resolve != nil {
		p = t.resolve(t.object, name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p == nil {
		t.missing[name] = struct{}{}
		return nil
	}
	t.procs[name] = p
	return p
}

// Call calls the next layer's name with args.
func (t *Table) Call(name string, args ...uintptr) (uintptr, error) {
	p, ok := t.Proc(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoProc, name)
	}
	return p.Call(args...), nil
}

// Names returns the resolved function names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.procs))
	for name := range t.procs {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of resolved functions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.procs)
}

// AddChild records an alias object that shares this table.
// It reports false if the child was already recorded.
func (t *Table) AddChild(kind Kind, object uintptr) bool {
	c := Child{Kind: kind, Object: object}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.children[c]; ok {
		return false
	}
	t.children[c] = struct{}{}
	return true
}

// RemoveChild forgets an alias object.
func (t *Table) RemoveChild(kind Kind, object uintptr) {
	t.mu.Lock()
	delete(t.children, Child{Kind: kind, Object: object})
	t.mu.Unlock()
}

// Children returns the alias objects sharing this table.
func (t *Table) Children() []Child {
	t.mu.RLock()
	out := make([]Child, 0, len(t.children))
	for c := range t.children {
		out = append(out, c)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Object < out[j].Object
	})
	return out
}
