package hermetic

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hermeticlab/hermetic/elfmod"
)

// PrivateLibrary owns one freshly mapped copy of an on-disk shared object.
// Its undefined imports resolve through its search chain only, never through
// the OS loader's global scope. Once loaded it lives until process exit;
// nothing in this package unmaps or finalizes a loaded library.
type PrivateLibrary struct {
	mu     sync.Mutex
	path   string
	img    *elfmod.Image
	chain  SearchChain
	loaded bool
	failed bool
}

// Open prepares the object at path for private loading without mapping or
// linking it.
func Open(path string) (*PrivateLibrary, error) {
	img, err := elfmod.Open(path)
	if err != nil {
		if errors.Is(err, elfmod.ErrBadImage) {
			return nil, &FormatError{Path: path, Err: err}
		}
		return nil, &NotFoundError{Path: path, Err: err}
	}
	return &PrivateLibrary{path: path, img: img}, nil
}

// LoadPrivate opens the object at path, appends the chain members in order,
// and loads it.
func LoadPrivate(path string, chain ...Library) (*PrivateLibrary, error) {
	lib, err := Open(path)
	if err != nil {
		return nil, err
	}
	for _, member := range chain {
		if err := lib.AddSearchLibrary(member); err != nil {
			return nil, err
		}
	}
	if err := lib.Load(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Path returns the file path this library was created from.
func (p *PrivateLibrary) Path() string { return p.path }

// ChainLen reports the current length of the search chain.
func (p *PrivateLibrary) ChainLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain.Len()
}

// AddSearchLibrary appends lib to the search chain. Chains are append-only
// and frozen by Load: growing one afterwards returns a ConfigurationError
// and leaves the resolved exports unchanged. Duplicate members are allowed;
// a later duplicate never wins over an earlier occurrence.
func (p *PrivateLibrary) AddSearchLibrary(lib Library) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded || p.failed {
		return &ConfigurationError{Op: "add search library", Path: p.path, Reason: "chain is frozen after load"}
	}
	if lib == nil {
		return &ConfigurationError{Op: "add search library", Path: p.path, Reason: "nil library"}
	}
	p.chain.Append(lib)
	return nil
}

// Load maps the object into a fresh address range, resolves every undefined
// import through the chain in order, relocates the image, and activates its
// exports. Either the whole image becomes queryable or Load fails with a
// LinkError naming the first unresolved import and nothing is activated.
// Load is once-only: success freezes the library, failure leaves it
// permanently unusable. Loads of unrelated libraries may run concurrently.
func (p *PrivateLibrary) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return &ConfigurationError{Op: "load", Path: p.path, Reason: "already loaded"}
	}
	if p.failed {
		return &ConfigurationError{Op: "load", Path: p.path, Reason: "previous load failed"}
	}

	err := p.img.Link(func(symbol string) (uintptr, error) {
		if addr, ok := p.chain.Resolve(symbol); ok {
			return addr, nil
		}
		return 0, &LinkError{Symbol: symbol, Requester: p.path}
	})
	if err != nil {
		p.failed = true
		var le *LinkError
		if errors.As(err, &le) {
			return le
		}
		return fmt.Errorf("hermetic: load %s: %w", p.path, err)
	}
	p.loaded = true

	logger.Debug("private library loaded",
		zap.String("path", p.path),
		zap.Uintptr("base", p.img.Base()),
		zap.Int("chain", p.chain.Len()),
		zap.Strings("needed", p.img.Needed()),
		zap.Int("imports", len(p.img.Imports())),
	)
	return nil
}

// Sym returns the address of one of this library's own exports. Before a
// successful Load it answers absence for every name.
func (p *PrivateLibrary) Sym(name string) (uintptr, bool) {
	return p.img.Export(name)
}
