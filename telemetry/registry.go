package telemetry

import (
	"fmt"
	"sort"
	"sync"
)

// Builder constructs an emitter. Backends register one under a well-known
// name so applications can select telemetry by configuration.
type Builder func() (Emitter, error)

// Registry maintains a mapping of emitter names to their builders. Backend
// packages register themselves using Register.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global emitter registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new emitter registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds an emitter builder to the registry.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates an emitter using the registered builder for name.
func (r *Registry) Build(name string) (Emitter, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown emitter: %q (registered: %v)", name, r.Names())
	}
	return builder()
}

// Names returns the registered emitter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if an emitter is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds an emitter builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates an emitter using the default registry.
func Build(name string) (Emitter, error) {
	return DefaultRegistry.Build(name)
}
