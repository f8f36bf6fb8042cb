//go:build !ios && !android && (amd64 || arm64)

package dispatch

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// CProc is a C function pointer called through purego.
type CProc uintptr

// Call calls the C function with integer and pointer arguments.
func (p CProc) Call(args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(uintptr(p), args...)
	return r1
}

// CProcAddr wraps a C resolver with the signature
// void (*(*)(void *object, const char *name))(void).
func CProcAddr(fn uintptr) ProcAddrFunc {
	if fn == 0 {
		return nil
	}
	return func(object uintptr, name string) Proc {
		cname := append([]byte(name), 0)
		r1, _, _ := purego.SyscallN(fn, object, uintptr(unsafe.Pointer(&cname[0])))
		runtime.KeepAlive(cname)
		if r1 == 0 {
			return nil
		}
		return CProc(r1)
	}
}
