package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis lists.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, addr, password string, db int, prefix string) (*RedisBroker, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisBrokerFromClient(client, prefix), nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "conveyor:bus:"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

// Push appends data to the queue's list.
func (b *RedisBroker) Push(ctx context.Context, queue string, data []byte, ttl time.Duration) error {
	key := b.prefix + queue
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

// Pop blocks on the queue's list for up to timeout.
func (b *RedisBroker) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, b.prefix+queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("pop %s: %w", queue, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("pop %s: unexpected reply length %d", queue, len(res))
	}
	return []byte(res[1]), nil
}

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
