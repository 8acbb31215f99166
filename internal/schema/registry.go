package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered tables. The key policy of a table is decided
// once here, at registration, for the lifetime of the registry.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewRegistry creates a registry pre-populated with the given tables.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{tables: make(map[string]*Table)}
	for _, t := range tables {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a table. Registering a name twice is an error: a table's
// policy cannot change once other code may have observed it.
func (r *Registry) Register(t *Table) error {
	if t == nil {
		return fmt.Errorf("register: nil table")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[t.Name]; exists {
		return fmt.Errorf("register: table %q already registered", t.Name)
	}
	r.tables[t.Name] = t
	return nil
}

// Lookup returns the table registered under name.
func (r *Registry) Lookup(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns every registered table sorted by name.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
