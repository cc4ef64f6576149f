package catalog

import (
	"sort"
	"sync"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Registry is the thread-safe node type catalog. Registration happens once
// during startup; Freeze rejects any later mutation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	frozen  bool
}

type entry struct {
	spec    NodeSpec
	factory Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a node type with its spec and executor factory.
// Duplicate types and post-freeze registration are startup errors.
func (r *Registry) Register(spec NodeSpec, factory Factory) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %s has nil factory", spec.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return schema.NewErrorf(schema.ErrCodeConflict, "registry is frozen; cannot register %s", spec.Type)
	}
	if _, exists := r.entries[spec.Type]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", spec.Type)
	}

	r.entries[spec.Type] = &entry{spec: spec, factory: factory}
	return nil
}

// Freeze seals the registry. Called once after startup registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the spec and factory for a node type.
func (r *Registry) Lookup(nodeType string) (NodeSpec, Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[nodeType]
	if !ok {
		return NodeSpec{}, nil, schema.NewErrorf(schema.ErrCodeNotFound, "node type %q not registered", nodeType)
	}
	return e.spec, e.factory, nil
}

// Spec returns the spec for a node type.
func (r *Registry) Spec(nodeType string) (NodeSpec, error) {
	spec, _, err := r.Lookup(nodeType)
	return spec, err
}

// Has checks whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nodeType]
	return ok
}

// List returns all registered specs, sorted by type.
func (r *Registry) List() []NodeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]NodeSpec, 0, len(r.entries))
	for _, e := range r.entries {
		specs = append(specs, e.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// Count returns the number of registered node types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
