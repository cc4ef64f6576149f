// Package refs implements the "$id.path" reference language used in node
// parameters, resolved against the per-run output store.
package refs

import (
	"sync"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Store is the per-run mapping from node id to its completed output object.
// A given id is written at most once per run; the writer is the worker that
// owns that node's execution, readers are downstream workers.
type Store struct {
	mu      sync.RWMutex
	outputs map[string]map[string]any
}

// NewStore creates an empty output store.
func NewStore() *Store {
	return &Store{outputs: make(map[string]map[string]any)}
}

// Seed pre-populates an id before the run starts. Used for the reserved
// "loop" id inside loop subgraphs.
func (s *Store) Seed(id string, output map[string]any) {
	s.mu.Lock()
	s.outputs[id] = deepCopyMap(output)
	s.mu.Unlock()
}

// Write records a node's terminal output. Writing an id twice is an
// executor bug.
func (s *Store) Write(id string, output map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outputs[id]; exists {
		return schema.NewErrorf(schema.ErrCodeExecutorBug, "output for node %q written twice", id)
	}
	s.outputs[id] = deepCopyMap(output)
	return nil
}

// Get returns the stored output for an id. The returned map is the frozen
// internal copy; callers must not mutate it (Resolve deep-copies on read).
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[id]
	return out, ok
}

// Snapshot returns a deep copy of all outputs, keyed by node id.
func (s *Store) Snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]map[string]any, len(s.outputs))
	for id, out := range s.outputs {
		snap[id] = deepCopyMap(out)
	}
	return snap
}

// Len returns the number of recorded outputs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outputs)
}
