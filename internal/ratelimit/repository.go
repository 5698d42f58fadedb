package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository persists windowed counters. Counters live under keys that encode
// scope and window bucket start, expiring at the window boundary, so counts
// survive restarts and reset to zero exactly when the window rolls over.
type Repository interface {
	Increment(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Decrement(ctx context.Context, key string) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Increment(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis Incr failed: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, expiry).Err(); err != nil {
			return count, fmt.Errorf("redis Expire failed: %w", err)
		}
	}
	return count, nil
}

func (r *RedisRepository) Decrement(ctx context.Context, key string) error {
	if err := r.client.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis Decr failed: %w", err)
	}
	return nil
}
