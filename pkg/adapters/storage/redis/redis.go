package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

const keyPrefix = "modkernel:module:"

// ModuleStore persists module records in Redis as JSON values
type ModuleStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewModuleStore creates a new Redis module store
func NewModuleStore(client *redis.Client, logger *zap.Logger) *ModuleStore {
	return &ModuleStore{
		client: client,
		logger: logger,
	}
}

// Save persists record
func (s *ModuleStore) Save(ctx context.Context, record domain.ModuleRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal module record: %w", err)
	}

	if err := s.client.Set(ctx, getModuleKey(record.Coordinate), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save module record: %w", err)
	}

	s.logger.Debug("module record saved",
		zap.String("coordinate", record.Coordinate.String()),
		zap.String("state", record.State.String()))

	return nil
}

// Get retrieves the record for c
func (s *ModuleStore) Get(ctx context.Context, c domain.Coordinate) (*domain.ModuleRecord, error) {
	data, err := s.client.Get(ctx, getModuleKey(c)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("module record %s: %w", c, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get module record: %w", err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the record for c
func (s *ModuleStore) Delete(ctx context.Context, c domain.Coordinate) error {
	if err := s.client.Del(ctx, getModuleKey(c)).Err(); err != nil {
		return fmt.Errorf("failed to delete module record: %w", err)
	}

	s.logger.Debug("module record deleted",
		zap.String("coordinate", c.String()))

	return nil
}

// List returns every stored record ordered by coordinate. Undecodable
// values are skipped.
func (s *ModuleStore) List(ctx context.Context) ([]domain.ModuleRecord, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	records := make([]domain.ModuleRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		record, err := decodeRecord(data)
		if err != nil {
			s.logger.Warn("skipping undecodable module record",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Coordinate.Compare(records[j].Coordinate) < 0
	})
	return records, nil
}

// Close closes the Redis client
func (s *ModuleStore) Close() error {
	return s.client.Close()
}

func decodeRecord(data []byte) (domain.ModuleRecord, error) {
	var record domain.ModuleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal module record: %w", err)
	}
	return record, nil
}

// getModuleKey returns the Redis key for a module record
func getModuleKey(c domain.Coordinate) string {
	return keyPrefix + c.String()
}
