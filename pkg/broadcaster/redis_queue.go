package broadcaster

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/internal/constants"
)

// RedisQueue is a MessageQueue on redis lists, one list per wallet. Idle
// lists expire after the retention.
type RedisQueue struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisQueue connects a queue to the configured redis server
func NewRedisQueue(cfg config.RedisConfig, retention time.Duration) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisQueue(client, cfg.Prefix, retention), nil
}

func newRedisQueue(client redis.UniversalClient, prefix string, retention time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = constants.DefaultRedisQueuePrefix
	}
	if retention <= 0 {
		retention = constants.DefaultQueueRetention
	}
	return &RedisQueue{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// Ping checks the connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) key(walletID string) string {
	return q.prefix + walletID
}

func (q *RedisQueue) Enqueue(ctx context.Context, walletID string, msg []byte) error {
	key := q.key(walletID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, msg)
		pipe.Expire(ctx, key, q.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue message for wallet %s: %w", walletID, err)
	}
	return nil
}

func (q *RedisQueue) Drain(ctx context.Context, walletID string) ([][]byte, error) {
	key := q.key(walletID)

	var lrange *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue of wallet %s: %w", walletID, err)
	}

	vals := lrange.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	msgs := make([][]byte, len(vals))
	for i, v := range vals {
		msgs[i] = []byte(v)
	}
	return msgs, nil
}

func (q *RedisQueue) Len(ctx context.Context, walletID string) (int, error) {
	n, err := q.client.LLen(ctx, q.key(walletID)).Result()
	return int(n), err
}

// Prune is a no-op: redis expires idle lists itself
func (q *RedisQueue) Prune(context.Context) (int, error) {
	return 0, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
