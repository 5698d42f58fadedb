package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository is the authoritative reservation store. Reserve must be an
// atomic insert-if-absent so two concurrent submissions of the same
// fingerprint cannot both win.
type Repository interface {
	Reserve(ctx context.Context, key, recordID string, ttl time.Duration) (bool, string, error)
	IncrementDuplicates(ctx context.Context, key string, ttl time.Duration) (int64, error)
	StoreSize(ctx context.Context, prefix string) (int, error)
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

// Reserve attempts SET NX with the record ID as value. On a lost race it
// returns the ID that won the reservation.
func (r *RedisRepository) Reserve(ctx context.Context, key, recordID string, ttl time.Duration) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, key, recordID, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("redis SetNX failed: %w", err)
	}
	if ok {
		return true, recordID, nil
	}

	existing, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SetNX and Get. Treat as duplicate
		// without an owner; the window boundary already passed.
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("redis Get failed: %w", err)
	}
	return false, existing, nil
}

func (r *RedisRepository) IncrementDuplicates(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis Incr failed: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("redis Expire failed: %w", err)
		}
	}
	return count, nil
}

func (r *RedisRepository) StoreSize(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}
