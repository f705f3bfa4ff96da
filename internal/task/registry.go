package task

import (
	"sort"
	"sync"
)

// Registry holds task definitions by name.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register adds a definition. Registering a nil definition or a duplicate
// name is a DefinitionError.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return &DefinitionError{Message: "cannot register nil definition"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.name]; exists {
		return &DefinitionError{Task: def.name, Message: "already registered"}
	}
	r.defs[def.name] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithLabel returns the definitions declaring label, sorted by name.
func (r *Registry) WithLabel(label string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, def := range r.defs {
		for _, l := range def.labels {
			if l == label {
				out = append(out, def)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
