package layershim

import (
	"context"

	"github.com/obinnaokechukwu/layershim/dispatch"
)

// Hook intercepts one function. Call receives the invocation and returns
// the value handed back to the caller.
type Hook interface {
	Call(inv *Invocation) uintptr
}

// HookFunc adapts a function to Hook.
type HookFunc func(inv *Invocation) uintptr

// Call calls f.
func (f HookFunc) Call(inv *Invocation) uintptr {
	return f(inv)
}

// Invocation is one intercepted call.
type Invocation struct {
	Context context.Context
	Name    string
	Object  uintptr
	Args    []uintptr
	layer   *Layer
	next    dispatch.Proc
}

// Forward calls the next layer with the original arguments.
func (inv *Invocation) Forward() uintptr {
	return inv.next.Call(inv.Args...)
}

// ForwardArgs calls the next layer with replaced arguments.
func (inv *Invocation) ForwardArgs(args ...uintptr) uintptr {
	return inv.next.Call(args...)
}

// Layer returns the layer the call was intercepted by, so hooks can look
// up other objects or register children.
func (inv *Invocation) Layer() *Layer {
	return inv.layer
}
