//go:build linux && (amd64 || arm64)

package dispatch

import (
	"os"
	"testing"

	"github.com/ebitengine/purego"
)

func TestCProc_CallsLibc(t *testing.T) {
	lib, err := purego.Dlopen("libc.so.6", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	defer purego.Dlclose(lib)

	sym, err := purego.Dlsym(lib, "getpid")
	if err != nil {
		t.Skipf("getpid not found: %v", err)
	}
	pid := CProc(sym).Call()
	if int(pid) != os.Getpid() {
		t.Errorf("getpid() = %d, want %d", pid, os.Getpid())
	}
}

func TestCProcAddr_ResolvesThroughDlsym(t *testing.T) {
	lib, err := purego.Dlopen("libc.so.6", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	defer purego.Dlclose(lib)

	dlsym, err := purego.Dlsym(lib, "dlsym")
	if err != nil {
		t.Skipf("dlsym not exported by libc: %v", err)
	}
	// dlsym(handle, name) has the resolver signature.
	resolve := CProcAddr(dlsym)
	if p := resolve(lib, "getpid"); p == nil {
		t.Fatal("getpid did not resolve")
	} else if int(p.Call()) != os.Getpid() {
		t.Error("resolved getpid returned the wrong pid")
	}
	if p := resolve(lib, "layershim_no_such_symbol"); p != nil {
		t.Error("unknown symbol resolved")
	}
	if CProcAddr(0) != nil {
		t.Error("nil resolver expected for a null pointer")
	}
}
