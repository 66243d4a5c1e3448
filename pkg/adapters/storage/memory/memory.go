package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

// ModuleStore keeps module records in a map. Records do not survive a
// restart.
type ModuleStore struct {
	records map[domain.Coordinate]domain.ModuleRecord
	mu      sync.RWMutex
}

// NewModuleStore creates an empty in-memory module store
func NewModuleStore() *ModuleStore {
	return &ModuleStore{
		records: make(map[domain.Coordinate]domain.ModuleRecord),
	}
}

// Save stores a copy of record
func (s *ModuleStore) Save(_ context.Context, record domain.ModuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Dependencies = append([]domain.Coordinate(nil), record.Dependencies...)
	s.records[record.Coordinate] = record
	return nil
}

// Get returns the record stored for c
func (s *ModuleStore) Get(_ context.Context, c domain.Coordinate) (*domain.ModuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[c]
	if !ok {
		return nil, fmt.Errorf("module record %s: %w", c, ports.ErrNotFound)
	}
	return &record, nil
}

// Delete removes the record stored for c
func (s *ModuleStore) Delete(_ context.Context, c domain.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, c)
	return nil
}

// List returns every record ordered by coordinate
func (s *ModuleStore) List(_ context.Context) ([]domain.ModuleRecord, error) {
	s.mu.RLock()
	records := make([]domain.ModuleRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Coordinate.Compare(records[j].Coordinate) < 0
	})
	return records, nil
}

// Close is a no-op
func (s *ModuleStore) Close() error { return nil }
