package module

import (
	"fmt"
	"net/url"
	"sync"
)

// Lookup finds a module by id.
type Lookup interface {
	GetByID(id ID) (Module, bool)
}

// Registry stores modules by id and by domain.
type Registry struct {
	mu      sync.RWMutex
	byID    map[ID]Module
	byHost  map[string]Module
	modules []Module
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ID]Module),
		byHost: make(map[string]Module),
	}
}

// Push adds m. A module whose id is already registered is rejected and the
// old one is kept.
func (r *Registry) Push(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[m.ID()]; ok {
		return fmt.Errorf("%w: %s (%s) conflicts with %s", ErrDuplicateModule, m.ID(), m.Name(), prev.Name())
	}

	r.byID[m.ID()] = m
	r.byHost[DomainOf(m.Domain())] = m
	r.modules = append(r.modules, m)

	return nil
}

func (r *Registry) GetByID(id ID) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]

	return m, ok
}

// GetByURL returns the module serving the url's domain. Path, query and
// credentials are ignored.
func (r *Registry) GetByURL(u *url.URL) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byHost[DomainOf(u)]

	return m, ok
}

// Modules returns registered modules in registration order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, len(r.modules))
	copy(out, r.modules)

	return out
}
