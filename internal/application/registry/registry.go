// Package registry holds the kernel's module arena, keyed by coordinate.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/modkernel/pkg/domain"
)

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrModuleExists   = errors.New("module already installed")
)

// Registry is the set of modules known to the kernel
type Registry struct {
	mu      sync.RWMutex
	modules map[domain.Coordinate]*domain.Module
}

// New creates an empty registry
func New() *Registry {
	return &Registry{modules: make(map[domain.Coordinate]*domain.Module)}
}

// Add registers m
func (r *Registry) Add(m *domain.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[m.Coordinate()]; ok {
		return fmt.Errorf("%w: %s", ErrModuleExists, m.Coordinate())
	}
	r.modules[m.Coordinate()] = m
	return nil
}

// Remove unregisters the module at c
func (r *Registry) Remove(c domain.Coordinate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[c]; !ok {
		return false
	}
	delete(r.modules, c)
	return true
}

// Get returns the module at c
func (r *Registry) Get(c domain.Coordinate) (*domain.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, c)
	}
	return m, nil
}

// Contains reports whether a module is registered at c
func (r *Registry) Contains(c domain.Coordinate) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[c]
	return ok
}

// List returns a snapshot of the modules ordered by coordinate
func (r *Registry) List() []*domain.Module {
	r.mu.RLock()
	out := make([]*domain.Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Coordinate().Compare(out[j].Coordinate()) < 0
	})
	return out
}

// Dependents returns the other registered modules that declare a dependency
// on c
func (r *Registry) Dependents(c domain.Coordinate) []*domain.Module {
	var out []*domain.Module
	for _, m := range r.List() {
		if m.Coordinate() != c && m.DependsOn(c) {
			out = append(out, m)
		}
	}
	return out
}

// Unsatisfied returns the dependencies of m that are missing or not in a
// state that can back a dependent. A dependency on itself is ignored.
func (r *Registry) Unsatisfied(m *domain.Module) []domain.Coordinate {
	var missing []domain.Coordinate
	for _, dep := range m.Dependencies() {
		if dep == m.Coordinate() {
			continue
		}
		d, err := r.Get(dep)
		if err != nil || !d.State().SatisfiesDependents() {
			missing = append(missing, dep)
		}
	}
	return missing
}

// CountByState returns the number of modules per state
func (r *Registry) CountByState() map[domain.State]int {
	counts := make(map[domain.State]int)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		counts[m.State()]++
	}
	return counts
}
