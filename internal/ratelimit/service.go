package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

// Decision is the outcome of a rate check. A disallowed decision is a normal
// admission result, not an error: the caller defers the event by RetryAfter.
type Decision struct {
	Allowed    bool
	Scope      string
	Window     string
	RetryAfter time.Duration
}

type window struct {
	name string
	size time.Duration
}

var windows = []window{
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// Service enforces three independent ceilings over fixed windows. Checks run
// global first, then per-event-type, then per-recipient; the first failing
// ceiling names the rejection. Every configured ceiling applies, so the most
// restrictive one wins by construction.
type Service struct {
	repo   Repository
	cfg    config.RateLimitConfig
	logger logger.Logger
	now    func() time.Time
}

func NewService(repo Repository, cfg config.RateLimitConfig, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// WithClock replaces the time source, for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type scopeCheck struct {
	scope   string
	keyPart string
	ceiling config.Ceiling
}

// TryConsume counts the event against all three scopes. When a ceiling is
// hit, increments already applied in this call are rolled back so the
// rejected submission consumes no quota.
func (s *Service) TryConsume(ctx context.Context, recipientID, eventType string, priority models.Priority) (Decision, error) {
	now := s.now()

	checks := []scopeCheck{
		{constants.ScopeGlobal, "global", s.cfg.Global},
		{constants.ScopeEventType, "et:" + eventType, s.cfg.PerEventType},
		{constants.ScopeRecipient, "rcpt:" + recipientID, s.cfg.PerRecipient},
	}

	var consumed []string

	for _, check := range checks {
		for _, w := range windows {
			ceiling := s.ceilingFor(check.ceiling, w.name)
			if ceiling <= 0 {
				continue
			}
			if priority == models.PriorityUrgent {
				ceiling = s.applyUrgentMultiplier(ceiling)
			}

			bucketStart := now.Truncate(w.size)
			key := fmt.Sprintf("%s%s:%s:%d", constants.CacheKeyPrefixRateLimit, check.keyPart, w.name, bucketStart.Unix())

			count, err := s.repo.Increment(ctx, key, w.size)
			if err != nil {
				s.rollback(ctx, consumed)
				return Decision{}, fmt.Errorf("rate limit increment failed for %s/%s: %w", check.scope, w.name, err)
			}
			consumed = append(consumed, key)

			if count > ceiling {
				s.rollback(ctx, consumed)
				retryAfter := bucketStart.Add(w.size).Sub(now)
				metrics.RateLimitDecisionsTotal.WithLabelValues(check.scope, w.name, "rejected").Inc()
				s.logger.DebugwCtx(ctx, "Rate ceiling hit",
					"scope", check.scope,
					"window", w.name,
					"ceiling", ceiling,
					"retry_after", retryAfter,
				)
				return Decision{
					Allowed:    false,
					Scope:      check.scope,
					Window:     w.name,
					RetryAfter: retryAfter,
				}, nil
			}
		}
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues("all", "all", "allowed").Inc()
	return Decision{Allowed: true}, nil
}

func (s *Service) ceilingFor(c config.Ceiling, windowName string) int64 {
	switch windowName {
	case "minute":
		return c.Minute
	case "hour":
		return c.Hour
	case "day":
		return c.Day
	}
	return 0
}

func (s *Service) applyUrgentMultiplier(ceiling int64) int64 {
	multiplier := s.cfg.UrgentMultiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	return int64(math.Ceil(float64(ceiling) * multiplier))
}

func (s *Service) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.repo.Decrement(ctx, key); err != nil {
			// A failed rollback over-counts by one until the window expires.
			s.logger.WarnwCtx(ctx, "Failed to roll back rate counter",
				"key", key,
				"error", err,
			)
		}
	}
}
