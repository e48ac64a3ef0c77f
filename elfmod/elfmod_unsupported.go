//go:build !linux || (!amd64 && !arm64)

package elfmod

import "errors"

var errUnsupported = errors.New("elfmod linking is only supported on linux amd64 and arm64")

func (im *Image) Link(resolve Resolver) error {
	_ = resolve
	return errUnsupported
}

func GlobalSym(name string) (uintptr, bool) {
	_ = name
	return 0, false
}

func Invoke(fn uintptr, args ...uintptr) uintptr {
	_, _ = fn, args
	return 0
}

func NewLoaderCallback(fn func(prefix, shortName, path string) uintptr) uintptr {
	_ = fn
	return 0
}
