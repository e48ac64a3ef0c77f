//go:build linux && (amd64 || arm64)

package elfmod

import (
	"github.com/ebitengine/purego"
)

// GlobalSym looks name up in the process-wide symbol table established by
// the OS loader, reporting whether it is defined.
func GlobalSym(name string) (uintptr, bool) {
	addr, err := purego.Dlsym(purego.RTLD_DEFAULT, name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

// Invoke calls the C function at fn with the given integer or pointer
// arguments and returns the first result register. The caller keeps any
// pointed-to Go memory alive across the call.
func Invoke(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}

// NewLoaderCallback wraps fn as a C-callable function with the shape
//
//	void *loader(const char *prefix, const char *shortname, const char *path);
//
// The returned thunk is never released; callers treat it as process-lifetime
// state like every loaded image.
func NewLoaderCallback(fn func(prefix, shortName, path string) uintptr) uintptr {
	return purego.NewCallback(func(prefix, shortName, path uintptr) uintptr {
		return fn(GoString(prefix), GoString(shortName), GoString(path))
	})
}
