package broadcaster

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/storage"
)

// Storage key prefix of queued messages
const prefixQueue = "/ws/queue/"

// KVQueue is a MessageQueue persisted in a key/value store so queued
// messages survive restarts
type KVQueue struct {
	kv        storage.KVStore
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	lastSeq int64
}

// NewKVQueue creates a queue on kv. The store is not closed by the queue.
func NewKVQueue(kv storage.KVStore, retention time.Duration) *KVQueue {
	if retention <= 0 {
		retention = constants.DefaultQueueRetention
	}
	return &KVQueue{
		kv:        kv,
		retention: retention,
		now:       time.Now,
	}
}

// queueKey returns the key of a queued message
// Format: /ws/queue/{hex(walletID)}/{seq}
// The wallet id is hex-encoded so that no id is a key prefix of another.
func queueKey(walletID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixQueue, hex.EncodeToString([]byte(walletID)), seq))
}

// queueWalletPrefix returns the prefix of all messages of a wallet
func queueWalletPrefix(walletID string) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixQueue, hex.EncodeToString([]byte(walletID))))
}

// nextSeq returns an increasing sequence number that is also the enqueue
// time in unix nanoseconds, so keys sort in FIFO order across restarts
func (q *KVQueue) nextSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.now().UnixNano()
	if seq <= q.lastSeq {
		seq = q.lastSeq + 1
	}
	q.lastSeq = seq
	return seq
}

func (q *KVQueue) Enqueue(ctx context.Context, walletID string, msg []byte) error {
	if err := q.kv.Put(ctx, queueKey(walletID, q.nextSeq()), msg); err != nil {
		return fmt.Errorf("failed to queue message for wallet %s: %w", walletID, err)
	}
	return nil
}

func (q *KVQueue) Drain(ctx context.Context, walletID string) ([][]byte, error) {
	var (
		keys [][]byte
		msgs [][]byte
	)
	err := q.kv.Iterate(ctx, queueWalletPrefix(walletID), func(key, value []byte) bool {
		keys = append(keys, key)
		msgs = append(msgs, value)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue of wallet %s: %w", walletID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	if err := q.deleteKeys(keys); err != nil {
		return nil, fmt.Errorf("failed to clear queue of wallet %s: %w", walletID, err)
	}
	return msgs, nil
}

func (q *KVQueue) Len(ctx context.Context, walletID string) (int, error) {
	n := 0
	err := q.kv.Iterate(ctx, queueWalletPrefix(walletID), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Prune removes the queues whose newest message is older than the retention
func (q *KVQueue) Prune(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.retention).UnixNano()

	type walletKeys struct {
		keys   [][]byte
		newest int64
	}
	wallets := make(map[string]*walletKeys)

	err := q.kv.Iterate(ctx, []byte(prefixQueue), func(key, _ []byte) bool {
		rest := strings.TrimPrefix(string(key), prefixQueue)
		idx := strings.LastIndexByte(rest, '/')
		if idx < 0 {
			return true
		}
		seq, err := strconv.ParseInt(rest[idx+1:], 10, 64)
		if err != nil {
			return true
		}
		wk, ok := wallets[rest[:idx]]
		if !ok {
			wk = &walletKeys{}
			wallets[rest[:idx]] = wk
		}
		wk.keys = append(wk.keys, key)
		if seq > wk.newest {
			wk.newest = seq
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan queues: %w", err)
	}

	var stale [][]byte
	for _, wk := range wallets {
		if wk.newest < cutoff {
			stale = append(stale, wk.keys...)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := q.deleteKeys(stale); err != nil {
		return 0, fmt.Errorf("failed to prune queues: %w", err)
	}
	return len(stale), nil
}

func (q *KVQueue) deleteKeys(keys [][]byte) error {
	batch := q.kv.NewBatch()
	defer batch.Close()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// Close is a no-op: the store belongs to the caller
func (q *KVQueue) Close() error {
	return nil
}
