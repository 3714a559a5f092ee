package broadcaster

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/pkg/storage"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func msgs(values ...string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out
}

// queueContract checks the behaviour every backend shares
func queueContract(t *testing.T, q MessageQueue) {
	ctx := context.Background()

	got, err := q.Drain(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= 12; i++ {
		require.NoError(t, q.Enqueue(ctx, "wallet-a", []byte(fmt.Sprintf("m%02d", i))))
	}
	require.NoError(t, q.Enqueue(ctx, "wallet-ab", []byte("other")))

	n, err := q.Len(ctx, "wallet-a")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	got, err = q.Drain(ctx, "wallet-a")
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("m%02d", i+1), string(m))
	}

	n, err = q.Len(ctx, "wallet-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = q.Drain(ctx, "wallet-ab")
	require.NoError(t, err)
	assert.Equal(t, msgs("other"), got)

	// ids that extend another id with a separator stay isolated
	require.NoError(t, q.Enqueue(ctx, "a/b", []byte("nested")))
	require.NoError(t, q.Enqueue(ctx, "a", []byte("parent")))

	got, err = q.Drain(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, msgs("parent"), got)

	n, err = q.Len(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = q.Drain(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, msgs("nested"), got)
}

func TestMemoryQueue(t *testing.T) {
	queueContract(t, NewMemoryQueue(time.Hour))
}

func TestMemoryQueueCopiesMessages(t *testing.T) {
	q := NewMemoryQueue(time.Hour)
	buf := []byte("first")
	require.NoError(t, q.Enqueue(context.Background(), "w", buf))
	copy(buf, "XXXXX")

	got, err := q.Drain(context.Background(), "w")
	require.NoError(t, err)
	assert.Equal(t, msgs("first"), got)
}

func TestMemoryQueuePrune(t *testing.T) {
	clock := newFakeClock()
	q := NewMemoryQueue(time.Hour)
	q.now = clock.Now
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "idle", []byte("a")))
	require.NoError(t, q.Enqueue(ctx, "idle", []byte("b")))
	clock.Advance(50 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, "active", []byte("c")))
	clock.Advance(20 * time.Minute)

	n, err := q.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, _ := q.Len(ctx, "idle")
	assert.Zero(t, left)
	left, _ = q.Len(ctx, "active")
	assert.Equal(t, 1, left)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(time.Hour)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), "w", []byte("m")), ErrQueueClosed)
	_, err := q.Drain(context.Background(), "w")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestKVQueue(t *testing.T) {
	queueContract(t, NewKVQueue(storage.NewMemoryStore(), time.Hour))
}

func TestKVQueueOrderSurvivesRestart(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()
	clock := newFakeClock()

	q := NewKVQueue(kv, time.Hour)
	q.now = clock.Now
	// same clock reading: sequence still increases
	require.NoError(t, q.Enqueue(ctx, "w", []byte("1")))
	require.NoError(t, q.Enqueue(ctx, "w", []byte("2")))

	clock.Advance(time.Second)
	restarted := NewKVQueue(kv, time.Hour)
	restarted.now = clock.Now
	require.NoError(t, restarted.Enqueue(ctx, "w", []byte("3")))

	got, err := restarted.Drain(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, msgs("1", "2", "3"), got)
	assert.Zero(t, kv.Len())
}

func TestKVQueueNestedWalletIDs(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()
	q := NewKVQueue(kv, time.Hour)

	require.NoError(t, q.Enqueue(ctx, "a/b", []byte("for a/b")))
	require.NoError(t, q.Enqueue(ctx, "a/b/c", []byte("for a/b/c")))

	got, err := q.Drain(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = q.Drain(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, msgs("for a/b"), got)

	n, err := q.Len(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKVQueuePrune(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()
	clock := newFakeClock()
	q := NewKVQueue(kv, time.Hour)
	q.now = clock.Now

	require.NoError(t, q.Enqueue(ctx, "idle", []byte("a")))
	require.NoError(t, q.Enqueue(ctx, "busy", []byte("b")))
	clock.Advance(59 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, "busy", []byte("c")))
	clock.Advance(2 * time.Minute)

	n, err := q.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	idle, _ := q.Len(ctx, "idle")
	assert.Zero(t, idle)
	busy, err := q.Drain(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, msgs("b", "c"), busy)
}

func TestNewMessageQueue(t *testing.T) {
	q, err := NewMessageQueue(config.BroadcasterConfig{QueueBackend: config.QueueBackendMemory}, config.RedisConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = NewMessageQueue(config.BroadcasterConfig{QueueBackend: config.QueueBackendPebble}, config.RedisConfig{}, storage.NewMemoryStore())
	require.NoError(t, err)
	assert.IsType(t, &KVQueue{}, q)

	_, err = NewMessageQueue(config.BroadcasterConfig{QueueBackend: config.QueueBackendPebble}, config.RedisConfig{}, nil)
	assert.Error(t, err)

	_, err = NewMessageQueue(config.BroadcasterConfig{QueueBackend: config.QueueBackendRedis}, config.RedisConfig{}, nil)
	assert.Error(t, err)

	q, err = NewMessageQueue(config.BroadcasterConfig{QueueBackend: config.QueueBackendRedis}, config.RedisConfig{Address: "localhost:6379"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, q)
	require.NoError(t, q.Close())

	_, err = NewMessageQueue(config.BroadcasterConfig{QueueBackend: "kafka"}, config.RedisConfig{}, nil)
	assert.Error(t, err)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("INDEXER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INDEXER_TEST_REDIS_ADDR not set")
	}

	prefix := fmt.Sprintf("indexer-test:%d:", time.Now().UnixNano())
	q, err := NewRedisQueue(config.RedisConfig{Address: addr, Prefix: prefix}, time.Minute)
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Ping(context.Background()))

	queueContract(t, q)

	require.NoError(t, q.Enqueue(context.Background(), "ttl", []byte("m")))
	ttl, err := q.client.TTL(context.Background(), q.key("ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
