package hermetic

import "sync"

// Registry is the process-scoped arena owning every successfully loaded
// PrivateLibrary. Registration is append-only: nothing is ever released,
// unmapped, or finalized. Tearing a hosted runtime down while the process
// dismantles its own global state can touch structures that no longer
// exist, so retained libraries live until process exit.
type Registry struct {
	mu   sync.Mutex
	libs []*PrivateLibrary
}

var (
	registryOnce sync.Once
	registry     *Registry
)

// DefaultRegistry returns the process-wide registry, creating it lazily.
func DefaultRegistry() *Registry {
	registryOnce.Do(func() {
		registry = &Registry{}
	})
	return registry
}

// Register retains lib for the remainder of the process. There is no
// unregister.
func (r *Registry) Register(lib *PrivateLibrary) {
	if lib == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.libs = append(r.libs, lib)
}

// Len reports how many libraries the registry retains.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.libs)
}

// Paths lists the retained libraries' file paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, len(r.libs))
	for i, lib := range r.libs {
		paths[i] = lib.Path()
	}
	return paths
}
