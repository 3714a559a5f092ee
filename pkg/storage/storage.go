package storage

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// KVStore is the ordered key/value contract shared by the offline message
// queues and the signature cache.
type KVStore interface {
	// Put stores a value with the given key
	Put(ctx context.Context, key, value []byte) error

	// Get retrieves a value by key, returning ErrNotFound if absent
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Delete removes a key-value pair
	Delete(ctx context.Context, key []byte) error

	// Iterate visits keys with the given prefix in ascending order until fn returns false
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// Has checks if a key exists
	Has(ctx context.Context, key []byte) (bool, error)

	// NewBatch creates a batch whose writes are applied atomically on Commit
	NewBatch() Batch

	// Close releases the underlying resources
	Close() error
}

// Batch groups writes that are committed atomically
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Commit() error
	Close() error
}

// Config holds pebble configuration
type Config struct {
	// Path is the database directory
	Path string

	// Cache is the block cache size in MB
	Cache int

	// MaxOpenFiles is the maximum number of open files
	MaxOpenFiles int

	// WriteBuffer is the memtable size in MB
	WriteBuffer int

	// ReadOnly opens the database without write access
	ReadOnly bool
}

// DefaultConfig returns the default configuration for the given path
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        64,
		MaxOpenFiles: 500,
		WriteBuffer:  16,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // All 0xff, no upper bound
}
