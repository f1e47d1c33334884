package attemptstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces counter keys.
const DefaultRedisPrefix = "ccstream:attempts:"

// RedisStore shares failure counters between server instances through Redis.
// Each host is one integer key incremented with INCR and refreshed with EXPIRE
// in a single transaction.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisStore creates a Redis-backed Store.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, "", time.Minute)
//
// Parameters:
//   - client: A connected Redis client
//   - prefix: Key prefix; DefaultRedisPrefix when empty
//   - window: Expiry of a host's counter after its last failure; DefaultWindow when <= 0
//
// Returns:
//   - A new *RedisStore
func NewRedisStore(client redis.Cmdable, prefix string, window time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &RedisStore{client: client, prefix: prefix, window: window}
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, key string) (int, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, r.key(key))
		pipe.Expire(ctx, r.key(key), r.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis record error: %w", err)
	}

	return int(incr.Val()), nil
}

// Count implements Store.
func (r *RedisStore) Count(ctx context.Context, key string) (int, error) {
	n, err := r.client.Get(ctx, r.key(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("redis get error: %w", err)
	}

	return n, nil
}

// Reset implements Store.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}

	return nil
}

func (r *RedisStore) key(host string) string {
	return r.prefix + host
}
