package process

import (
	"fmt"
	"sort"
	"sync"
)

// Scope is the key/value context shared by the phases of a process.
// Phases of the same level must write disjoint keys.
type Scope struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{values: make(map[string]any)}
}

// Set stores value under key
func (s *Scope) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get returns the value under key
func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes key
func (s *Scope) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Keys returns the stored keys, sorted
func (s *Scope) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the value under key as a T
func Value[T any](s *Scope, key string) (T, error) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, fmt.Errorf("scope key %q not set", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("scope key %q holds %T, want %T", key, v, zero)
	}
	return t, nil
}
