// Package elfmod maps ELF shared objects into the current process and links
// them against caller-chosen symbol providers instead of the OS loader's
// global scope.
package elfmod

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/hermeticlab/hermetic/logging"
)

var logger = logging.New("elfmod")

// ErrBadImage reports an object that is not a loadable ELF image for the
// current machine.
var ErrBadImage = errors.New("elfmod: not a loadable image")

// ErrUnsupportedReloc reports a relocation form this loader does not handle.
var ErrUnsupportedReloc = errors.New("elfmod: unsupported relocation")

// Resolver supplies an address for a symbol the image does not define
// itself. Returning an error fails the link with that error.
type Resolver func(symbol string) (uintptr, error)

// Image is one shared object, parsed at Open and mapped at Link. A linked
// Image is never unmapped; failed links release their reservation and leave
// the Image permanently unusable.
type Image struct {
	mu      sync.Mutex
	path    string
	osf     *os.File
	ef      *elf.File
	dynsyms []elf.Symbol
	needed  []string
	imports []string

	loads     []*elf.Prog
	region    []byte
	base      uintptr
	attempted bool
	linked    bool
	exports   map[string]uintptr
}

// Open parses and validates the shared object at path without mapping or
// linking it.
func Open(path string) (*Image, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfmod: open image: %w", err)
	}
	ef, err := elf.NewFile(osf)
	if err != nil {
		_ = osf.Close()
		return nil, fmt.Errorf("elfmod: %s: %w: %v", path, ErrBadImage, err)
	}
	if err := validateImage(ef); err != nil {
		_ = osf.Close()
		return nil, fmt.Errorf("elfmod: %s: %w", path, err)
	}

	im := &Image{path: path, osf: osf, ef: ef}
	if syms, err := ef.DynamicSymbols(); err == nil {
		im.dynsyms = syms
	}
	im.needed, _ = ef.DynString(elf.DT_NEEDED)
	for _, s := range im.dynsyms {
		if s.Section == elf.SHN_UNDEF && s.Name != "" {
			im.imports = append(im.imports, s.Name)
		}
	}
	return im, nil
}

func validateImage(f *elf.File) error {
	machine, err := currentMachine()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if f.Class != elf.ELFCLASS64 {
		return fmt.Errorf("%w: class %s", ErrBadImage, f.Class)
	}
	if f.Machine != machine {
		return fmt.Errorf("%w: foreign machine (provided: %s, expected: %s)", ErrBadImage, f.Machine, machine)
	}
	if f.Type != elf.ET_DYN {
		return fmt.Errorf("%w: file type %s", ErrBadImage, f.Type)
	}
	for _, p := range f.Progs {
		if p.Type == elf.PT_TLS {
			return fmt.Errorf("%w: image carries thread-local storage", ErrBadImage)
		}
	}
	return nil
}

func currentMachine() (elf.Machine, error) {
	switch runtime.GOARCH {
	case "amd64":
		return elf.EM_X86_64, nil
	case "arm64":
		return elf.EM_AARCH64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
}

// Path returns the file path the image was opened from.
func (im *Image) Path() string { return im.path }

// Needed lists the object's DT_NEEDED entries. They are informational only:
// Link never loads them implicitly, the resolver stands in for them.
func (im *Image) Needed() []string { return append([]string(nil), im.needed...) }

// Imports lists the names of the object's undefined symbols.
func (im *Image) Imports() []string { return append([]string(nil), im.imports...) }

// Base returns the load bias of the mapped image, or 0 before a successful
// Link.
func (im *Image) Base() uintptr {
	im.mu.Lock()
	defer im.mu.Unlock()
	if !im.linked {
		return 0
	}
	return im.base
}

// Export returns the address of one of the image's own defined symbols. It
// answers false for every name until Link succeeds.
func (im *Image) Export(name string) (uintptr, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if !im.linked {
		return 0, false
	}
	addr, ok := im.exports[name]
	return addr, ok
}

// Info summarizes a shared object's linking surface.
type Info struct {
	Machine elf.Machine
	Type    elf.Type
	Needed  []string
	Imports []string
	Exports []string
}

// Describe parses the object at path for diagnostic display. Unlike Open it
// accepts objects built for foreign machines.
func Describe(path string) (*Info, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfmod: describe %s: %w", path, err)
	}
	defer f.Close()

	info := &Info{Machine: f.Machine, Type: f.Type}
	info.Needed, _ = f.DynString(elf.DT_NEEDED)
	syms, _ := f.DynamicSymbols()
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			info.Imports = append(info.Imports, s.Name)
		} else {
			info.Exports = append(info.Exports, s.Name)
		}
	}
	return info, nil
}

// CString returns s as a NUL-terminated byte slice.
func CString(s string) ([]byte, error) {
	if strings.ContainsRune(s, '\x00') {
		return nil, errors.New("elfmod: string contains NUL")
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, nil
}

// CStringPtr returns the address of b's first byte.
func CStringPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// GoString copies the NUL-terminated C string at ptr.
func GoString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	const maxLen = 1 << 20
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if ch == 0 {
			return string(buf)
		}
		buf = append(buf, ch)
	}
	return string(buf)
}
