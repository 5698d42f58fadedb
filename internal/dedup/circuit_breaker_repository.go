package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"beacon/internal/config"
	"beacon/pkg/circuitbreaker"
)

// CircuitBreakerRepository shields the reservation store behind a breaker so
// a struggling Redis does not stall every admission.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{
			repo: repo,
			cb:   nil,
		}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-dedup")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

type reserveResult struct {
	ok       bool
	recordID string
}

func (r *CircuitBreakerRepository) Reserve(ctx context.Context, key, recordID string, ttl time.Duration) (bool, string, error) {
	if r.cb == nil {
		return r.repo.Reserve(ctx, key, recordID, ttl)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		ok, existing, err := r.repo.Reserve(ctx, key, recordID, ttl)
		if err != nil {
			return nil, err
		}
		return reserveResult{ok: ok, recordID: existing}, nil
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return false, "", fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return false, "", err
	}

	res, ok := result.(reserveResult)
	if !ok {
		return false, "", fmt.Errorf("repository returned invalid result type")
	}

	return res.ok, res.recordID, nil
}

func (r *CircuitBreakerRepository) IncrementDuplicates(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if r.cb == nil {
		return r.repo.IncrementDuplicates(ctx, key, ttl)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.repo.IncrementDuplicates(ctx, key, ttl)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return 0, fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return 0, err
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("repository returned invalid result type")
	}

	return count, nil
}

func (r *CircuitBreakerRepository) StoreSize(ctx context.Context, prefix string) (int, error) {
	if r.cb == nil {
		return r.repo.StoreSize(ctx, prefix)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.repo.StoreSize(ctx, prefix)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return 0, fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return 0, err
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("repository returned invalid result type")
	}

	return size, nil
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}
