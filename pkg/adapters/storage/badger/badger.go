package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/pkg/domain"
	"github.com/aescanero/modkernel/pkg/ports"
)

var keyPrefix = []byte("module/")

// Config configures the embedded database
type Config struct {
	// Path is the database directory, ignored when InMemory is set
	Path       string
	InMemory   bool
	SyncWrites bool
}

// zapLogger routes badger's internal logging through zap
type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// ModuleStore persists module records in an embedded badger database
type ModuleStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens or creates the database described by cfg
func Open(cfg Config, logger *zap.Logger) (*ModuleStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent module store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&zapLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &ModuleStore{db: db, logger: logger}, nil
}

// Save persists record
func (s *ModuleStore) Save(_ context.Context, record domain.ModuleRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal module record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(moduleKey(record.Coordinate), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save module record: %w", err)
	}
	return nil
}

// Get retrieves the record for c
func (s *ModuleStore) Get(_ context.Context, c domain.Coordinate) (*domain.ModuleRecord, error) {
	var record domain.ModuleRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(moduleKey(c))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("module record %s: %w", c, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module record: %w", err)
	}
	return &record, nil
}

// Delete removes the record for c
func (s *ModuleStore) Delete(_ context.Context, c domain.Coordinate) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(moduleKey(c))
	})
	if err != nil {
		return fmt.Errorf("failed to delete module record: %w", err)
	}
	return nil
}

// List returns every stored record in key order. Undecodable values are
// skipped.
func (s *ModuleStore) List(ctx context.Context) ([]domain.ModuleRecord, error) {
	var records []domain.ModuleRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var record domain.ModuleRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				s.logger.Warn("skipping undecodable module record",
					zap.ByteString("key", item.KeyCopy(nil)),
					zap.Error(err))
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list module records: %w", err)
	}
	return records, nil
}

// Close closes the database
func (s *ModuleStore) Close() error {
	return s.db.Close()
}

func moduleKey(c domain.Coordinate) []byte {
	return append(append([]byte{}, keyPrefix...), c.String()...)
}
