package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/storage"
)

// ErrQueueClosed is returned by a queue after Close
var ErrQueueClosed = errors.New("message queue closed")

// MessageQueue holds the undelivered messages of wallets without a live
// subscriber. Messages of a wallet are returned in the order they were
// enqueued.
type MessageQueue interface {
	// Enqueue appends an encoded message to the wallet's queue
	Enqueue(ctx context.Context, walletID string, msg []byte) error

	// Drain returns the wallet's queued messages and clears the queue
	Drain(ctx context.Context, walletID string) ([][]byte, error)

	// Len returns the number of queued messages of the wallet
	Len(ctx context.Context, walletID string) (int, error)

	// Prune removes queues that received nothing for longer than the
	// retention, returning the number of removed messages
	Prune(ctx context.Context) (int, error)

	Close() error
}

type memoryWalletQueue struct {
	msgs    [][]byte
	updated time.Time
}

// MemoryQueue is an in-process MessageQueue
type MemoryQueue struct {
	mu        sync.Mutex
	wallets   map[string]*memoryWalletQueue
	retention time.Duration
	now       func() time.Time
	closed    bool
}

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(retention time.Duration) *MemoryQueue {
	if retention <= 0 {
		retention = constants.DefaultQueueRetention
	}
	return &MemoryQueue{
		wallets:   make(map[string]*memoryWalletQueue),
		retention: retention,
		now:       time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, walletID string, msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	wq, ok := q.wallets[walletID]
	if !ok {
		wq = &memoryWalletQueue{}
		q.wallets[walletID] = wq
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	wq.msgs = append(wq.msgs, cp)
	wq.updated = q.now()
	return nil
}

func (q *MemoryQueue) Drain(_ context.Context, walletID string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	wq, ok := q.wallets[walletID]
	if !ok {
		return nil, nil
	}
	delete(q.wallets, walletID)
	return wq.msgs, nil
}

func (q *MemoryQueue) Len(_ context.Context, walletID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if wq, ok := q.wallets[walletID]; ok {
		return len(wq.msgs), nil
	}
	return 0, nil
}

func (q *MemoryQueue) Prune(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.retention)
	removed := 0
	for walletID, wq := range q.wallets {
		if wq.updated.Before(cutoff) {
			removed += len(wq.msgs)
			delete(q.wallets, walletID)
		}
	}
	return removed, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wallets = make(map[string]*memoryWalletQueue)
	return nil
}

// NewMessageQueue creates the queue of the configured backend. kv is only
// used by the pebble backend.
func NewMessageQueue(cfg config.BroadcasterConfig, redisCfg config.RedisConfig, kv storage.KVStore) (MessageQueue, error) {
	switch cfg.QueueBackend {
	case "", config.QueueBackendMemory:
		return NewMemoryQueue(cfg.QueueRetention), nil
	case config.QueueBackendPebble:
		if kv == nil {
			return nil, fmt.Errorf("pebble queue backend requires a key/value store")
		}
		return NewKVQueue(kv, cfg.QueueRetention), nil
	case config.QueueBackendRedis:
		return NewRedisQueue(redisCfg, cfg.QueueRetention)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
