package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStore implements KVStore on top of PebbleDB
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool
}

// Ensure PebbleStore implements KVStore
var _ KVStore = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) a pebble database
func NewPebbleStore(cfg *Config, logger *zap.Logger) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cfg.Cache) << 20), // MB to bytes
		MaxOpenFiles: cfg.MaxOpenFiles,
		MemTableSize: uint64(cfg.WriteBuffer) << 20,
		ReadOnly:     cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("pebble store opened", zap.String("path", cfg.Path), zap.Bool("readonly", cfg.ReadOnly))

	return &PebbleStore{
		db:     db,
		config: cfg,
		logger: logger,
	}, nil
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *PebbleStore) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}
	return s.db.Close()
}

// Put stores a value with the given key
func (s *PebbleStore) Put(ctx context.Context, key, value []byte) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}
	return s.db.Set(key, value, pebble.Sync)
}

// Get retrieves a value by key
func (s *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// The value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Delete removes a key-value pair
func (s *PebbleStore) Delete(ctx context.Context, key []byte) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}
	return s.db.Delete(key, pebble.Sync)
}

// Iterate iterates over keys with the given prefix
func (s *PebbleStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Key and value are only valid until the next iteration
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		if !fn(key, value) {
			break
		}
	}

	return iter.Error()
}

// Has checks if a key exists
func (s *PebbleStore) Has(ctx context.Context, key []byte) (bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}

	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// NewBatch creates a new batch for atomic writes
func (s *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{store: s, batch: s.db.NewBatch()}
}

type pebbleBatch struct {
	store  *PebbleStore
	batch  *pebble.Batch
	count  int
	closed bool
	mu     sync.Mutex
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.batch.Set(key, value, nil); err != nil {
		return err
	}
	b.count++
	return nil
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.batch.Delete(key, nil); err != nil {
		return err
	}
	b.count++
	return nil
}

func (b *pebbleBatch) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *pebbleBatch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.store.ensureWritable(); err != nil {
		return err
	}
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.batch.Close()
}
