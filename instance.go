package hermetic

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hermeticlab/hermetic/elfmod"
)

// InstanceConfig names the objects composing one isolated runtime copy,
// bottom-up, plus the runtime's linking conventions.
type InstanceConfig struct {
	// SupportPath is the base support library, linked against the global
	// table only. Optional.
	SupportPath string

	// RuntimePath is the hosted runtime library. Extensions loaded on this
	// instance's behalf resolve against it.
	RuntimePath string

	// DriverPath is the library exporting the entry point Execute drives.
	DriverPath string

	// EntrySymbol is the driver's entry point, with the C shape
	// int64_t entry(const char *source), returning 0 on success.
	// Defaults to "run".
	EntrySymbol string

	// LoaderCell optionally names an exported data cell somewhere in the
	// instance's tree. Build stores the instance's extension-loader
	// callback there, so the hosted runtime calls back into the correct
	// instance without any process-global binding.
	LoaderCell string
}

// RuntimeInstance is one isolated copy of the hosted runtime: a private
// support/runtime/driver tree plus a serialized execution surface.
type RuntimeInstance struct {
	cfg InstanceConfig

	mu      sync.Mutex
	support *PrivateLibrary
	runtime *PrivateLibrary
	driver  *PrivateLibrary
	entry   uintptr
	built   bool
	failed  bool

	extMu   sync.Mutex
	extErrs error
}

// NewRuntimeInstance prepares an instance; Build performs the loading.
func NewRuntimeInstance(cfg InstanceConfig) *RuntimeInstance {
	if cfg.EntrySymbol == "" {
		cfg.EntrySymbol = "run"
	}
	return &RuntimeInstance{cfg: cfg}
}

// RuntimeLibrary returns the instance's hosted-runtime library, nil before
// Build.
func (ri *RuntimeInstance) RuntimeLibrary() *PrivateLibrary {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.runtime
}

// Build loads the instance's tree in strict dependency order: the support
// library against the global table, the runtime against (support, global),
// the driver against (runtime, global). It then resolves the driver entry,
// installs the instance-scoped extension loader, and registers the tree.
// Build is once-only the way Load is: success freezes the instance, failure
// latches it. Retrying returns a ConfigurationError. A failed Build may leave
// part of the tree mapped; like everything else this package maps, those
// pages are never reclaimed.
func (ri *RuntimeInstance) Build() error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.built {
		return &ConfigurationError{Op: "build instance", Path: ri.cfg.RuntimePath, Reason: "already built"}
	}
	if ri.failed {
		return &ConfigurationError{Op: "build instance", Path: ri.cfg.RuntimePath, Reason: "previous build failed"}
	}
	if err := ri.build(); err != nil {
		ri.failed = true
		return err
	}
	ri.built = true
	return nil
}

func (ri *RuntimeInstance) build() error {
	if ri.cfg.SupportPath != "" {
		support, err := LoadPrivate(ri.cfg.SupportPath, Global())
		if err != nil {
			return err
		}
		ri.support = support
	}

	runtimeChain := []Library{Global()}
	if ri.support != nil {
		runtimeChain = []Library{ri.support, Global()}
	}
	rt, err := LoadPrivate(ri.cfg.RuntimePath, runtimeChain...)
	if err != nil {
		return err
	}
	ri.runtime = rt

	driver, err := LoadPrivate(ri.cfg.DriverPath, ri.runtime, Global())
	if err != nil {
		return err
	}
	ri.driver = driver

	entry, ok := ri.driver.Sym(ri.cfg.EntrySymbol)
	if !ok {
		return &LinkError{Symbol: ri.cfg.EntrySymbol, Requester: ri.cfg.DriverPath}
	}
	ri.entry = entry

	if ri.cfg.LoaderCell != "" {
		if err := ri.installLoaderCell(); err != nil {
			return err
		}
	}

	reg := DefaultRegistry()
	if ri.support != nil {
		reg.Register(ri.support)
	}
	reg.Register(ri.runtime)
	reg.Register(ri.driver)

	logger.Debug("instance built",
		zap.String("runtime", ri.cfg.RuntimePath),
		zap.String("driver", ri.cfg.DriverPath),
		zap.String("entry", ri.cfg.EntrySymbol),
	)
	return nil
}

// installLoaderCell writes the instance's C-callable extension loader into
// the named exported data cell, searching the tree in build order.
func (ri *RuntimeInstance) installLoaderCell() error {
	cb := elfmod.NewLoaderCallback(ri.loadExtension)
	if cb == 0 {
		return &ConfigurationError{Op: "install loader cell", Path: ri.cfg.RuntimePath, Reason: "callbacks unavailable on this platform"}
	}
	for _, lib := range []*PrivateLibrary{ri.support, ri.runtime, ri.driver} {
		if lib == nil {
			continue
		}
		if addr, ok := lib.Sym(ri.cfg.LoaderCell); ok {
			*(*uintptr)(unsafe.Pointer(addr)) = cb
			return nil
		}
	}
	return &LinkError{Symbol: ri.cfg.LoaderCell, Requester: ri.cfg.RuntimePath}
}

// loadExtension threads this instance's runtime library explicitly instead
// of reading any process-wide binding, so concurrently executing instances
// never observe each other. Failures are recorded for the next Execute to
// report; 0 goes back to the hosted runtime, which surfaces the failure
// through its own error path.
func (ri *RuntimeInstance) loadExtension(prefix, shortName, path string) uintptr {
	addr, err := LoadExtensionInto(ri.runtime, prefix, shortName, path)
	if err != nil {
		ri.extMu.Lock()
		ri.extErrs = multierr.Append(ri.extErrs, err)
		ri.extMu.Unlock()
		logger.Error("extension load failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0
	}
	return addr
}

func (ri *RuntimeInstance) takeExtensionErrors() error {
	ri.extMu.Lock()
	defer ri.extMu.Unlock()
	err := ri.extErrs
	ri.extErrs = nil
	return err
}

// Execute runs one unit of work through the driver entry. The instance's
// execution lock is held to every exit path, so extension loads triggered
// by the hosted runtime are attributed to this instance alone. Distinct
// instances may execute concurrently.
func (ri *RuntimeInstance) Execute(source string) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if !ri.built {
		return &ConfigurationError{Op: "execute", Path: ri.cfg.DriverPath, Reason: "instance is not built"}
	}

	csrc, err := elfmod.CString(source)
	if err != nil {
		return fmt.Errorf("hermetic: execute: %w", err)
	}
	status := elfmod.Invoke(ri.entry, elfmod.CStringPtr(csrc))
	runtime.KeepAlive(csrc)

	if extErr := ri.takeExtensionErrors(); extErr != nil {
		return fmt.Errorf("hermetic: execute: %w", extErr)
	}
	if status != 0 {
		return fmt.Errorf("hermetic: execute: driver returned status %d", int64(status))
	}
	return nil
}
