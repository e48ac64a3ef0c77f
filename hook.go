package hermetic

import (
	"sync"

	"go.uber.org/zap"
)

// ExtensionLoadHook is the redirection point a hosted runtime's native
// extension loader is routed through. It holds the "current" instance
// library freshly loaded extensions link against; the type admits only
// private libraries, never the global table.
//
// HandleExtensionLoad runs entirely under the hook's mutex, so overlapping
// extension loads from different threads serialize and each observes the
// binding current at its start. Instances that execute concurrently should
// prefer LoadExtensionInto with their own runtime library over sharing a
// hook binding.
type ExtensionLoadHook struct {
	mu      sync.Mutex
	current *PrivateLibrary
}

var (
	hookOnce sync.Once
	hook     *ExtensionLoadHook
)

// DefaultHook returns the process-wide extension load hook.
func DefaultHook() *ExtensionLoadHook {
	hookOnce.Do(func() {
		hook = &ExtensionLoadHook{}
	})
	return hook
}

// Bind names lib as the current instance library. Rebinding is allowed at
// any time; binding nil is an error.
func (h *ExtensionLoadHook) Bind(lib *PrivateLibrary) error {
	if lib == nil {
		return &ConfigurationError{Op: "bind extension hook", Reason: "nil instance library"}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = lib
	return nil
}

// HandleExtensionLoad loads the extension at path against the currently
// bound instance and returns the address of its entry point, named
// prefix + "_" + shortName.
func (h *ExtensionLoadHook) HandleExtensionLoad(prefix, shortName, path string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return 0, &ConfigurationError{Op: "handle extension load", Reason: "hook is unbound"}
	}
	return LoadExtensionInto(h.current, prefix, shortName, path)
}

// LoadExtensionInto loads the extension at path so that it resolves first
// against the global table and then against instanceLib, mirroring how the
// instance's own tree was linked. On success the extension is registered
// with the default registry and the address of its prefix + "_" + shortName
// entry point is returned; an absent entry point is a LinkError naming the
// derived symbol.
func LoadExtensionInto(instanceLib *PrivateLibrary, prefix, shortName, path string) (uintptr, error) {
	if instanceLib == nil {
		return 0, &ConfigurationError{Op: "load extension", Path: path, Reason: "nil instance library"}
	}

	ext, err := Open(path)
	if err != nil {
		return 0, err
	}
	if err := ext.AddSearchLibrary(Global()); err != nil {
		return 0, err
	}
	if err := ext.AddSearchLibrary(instanceLib); err != nil {
		return 0, err
	}
	if err := ext.Load(); err != nil {
		return 0, err
	}

	entry := prefix + "_" + shortName
	addr, ok := ext.Sym(entry)
	if !ok {
		return 0, &LinkError{Symbol: entry, Requester: path}
	}
	DefaultRegistry().Register(ext)

	logger.Info("extension loaded",
		zap.String("path", path),
		zap.String("entry", entry),
		zap.String("instance", instanceLib.Path()),
	)
	return addr, nil
}
