package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// Source serves descriptors registered in memory. Staged and stored paths
// are synthetic; nothing touches the filesystem.
type Source struct {
	mu          sync.Mutex
	descriptors map[string]domain.Descriptor
	failures    map[string]error
	stored      map[domain.Coordinate]string
	staged      map[string]string
	nextID      int
}

// New creates an empty in-memory artifact source
func New() *Source {
	return &Source{
		descriptors: make(map[string]domain.Descriptor),
		failures:    make(map[string]error),
		stored:      make(map[domain.Coordinate]string),
		staged:      make(map[string]string),
	}
}

// Add publishes desc at location
func (s *Source) Add(location string, desc domain.Descriptor) {
	s.mu.Lock()
	s.descriptors[location] = desc
	s.mu.Unlock()
}

// FailTransfer makes transferring the artifact fetched from location fail
// with err
func (s *Source) FailTransfer(location string, err error) {
	s.mu.Lock()
	s.failures[location] = err
	s.mu.Unlock()
}

// Fetch stages the artifact published at location
func (s *Source) Fetch(_ context.Context, location string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.descriptors[location]; !ok {
		return "", fmt.Errorf("artifact %s: %w", location, ports.ErrNotFound)
	}
	s.nextID++
	staged := fmt.Sprintf("mem://staging/%d", s.nextID)
	s.staged[staged] = location
	return staged, nil
}

// Scan returns the descriptor of a staged artifact
func (s *Source) Scan(_ context.Context, staged string) (*domain.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	location, ok := s.staged[staged]
	if !ok {
		return nil, fmt.Errorf("staged artifact %s: %w", staged, ports.ErrNotFound)
	}
	desc := s.descriptors[location]
	return &desc, nil
}

// Transfer records the artifact as stored
func (s *Source) Transfer(_ context.Context, staged string, c domain.Coordinate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	location, ok := s.staged[staged]
	if !ok {
		return "", fmt.Errorf("staged artifact %s: %w", staged, ports.ErrNotFound)
	}
	if err := s.failures[location]; err != nil {
		return "", err
	}
	delete(s.staged, staged)
	path := "mem://modules/" + c.String()
	s.stored[c] = path
	return path, nil
}

// Remove forgets a stored artifact
func (s *Source) Remove(_ context.Context, c domain.Coordinate) error {
	s.mu.Lock()
	delete(s.stored, c)
	s.mu.Unlock()
	return nil
}

// Discard forgets a staged artifact
func (s *Source) Discard(staged string) error {
	s.mu.Lock()
	delete(s.staged, staged)
	s.mu.Unlock()
	return nil
}

// Stored reports whether an artifact is stored for c
func (s *Source) Stored(c domain.Coordinate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stored[c]
	return ok
}

// Staged returns the number of staged artifacts not yet transferred or
// discarded
func (s *Source) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}
