package config

import (
	"fmt"
	"time"

	"beacon/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg.Dedup); err != nil {
		errors = append(errors, err)
	}

	if err := validateRateLimit(cfg.RateLimit); err != nil {
		errors = append(errors, err)
	}

	if err := validateRetry(cfg.Retry); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type: %s", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Redis.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "redis host is required (dedup reservations and rate counters)",
		}
	}

	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "mongodb uri is required (notification records)",
		}
	}

	return nil
}

func validateDedup(cfg DedupConfig) error {
	if cfg.WindowSeconds < 0 {
		return &ValidationError{
			Field:   "dedup.window_seconds",
			Message: "dedup window cannot be negative",
		}
	}

	for eventType, window := range cfg.WindowsByEventType {
		if window <= 0 {
			return &ValidationError{
				Field:   "dedup.windows_by_event_type." + eventType,
				Message: "per-event-type dedup window must be positive",
			}
		}
	}

	// The local cache must never outlive the shortest reservation window:
	// a cache entry past its window reports duplicates for events the store
	// would admit again.
	if cfg.CacheTTLSeconds > 0 {
		smallest := cfg.WindowSeconds
		if smallest <= 0 {
			smallest = int(constants.DefaultDedupWindow / time.Second)
		}
		for _, window := range cfg.WindowsByEventType {
			if window > 0 && window < smallest {
				smallest = window
			}
		}
		if cfg.CacheTTLSeconds > smallest {
			return &ValidationError{
				Field:   "dedup.cache_ttl_seconds",
				Message: fmt.Sprintf("cache TTL (%ds) must not exceed the smallest dedup window (%ds)", cfg.CacheTTLSeconds, smallest),
			}
		}
	}

	if cfg.OnStoreError != "" &&
		cfg.OnStoreError != constants.FallbackAllow &&
		cfg.OnStoreError != constants.FallbackDeny {
		return &ValidationError{
			Field:   "dedup.on_store_error",
			Message: fmt.Sprintf("must be %q or %q, got %q", constants.FallbackAllow, constants.FallbackDeny, cfg.OnStoreError),
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if cfg.UrgentMultiplier < 1.0 && cfg.UrgentMultiplier != 0 {
		return &ValidationError{
			Field:   "ratelimit.urgent_multiplier",
			Message: "urgent multiplier must be >= 1.0",
		}
	}

	for _, c := range []struct {
		field   string
		ceiling Ceiling
	}{
		{"ratelimit.global", cfg.Global},
		{"ratelimit.per_event_type", cfg.PerEventType},
		{"ratelimit.per_recipient", cfg.PerRecipient},
	} {
		if c.ceiling.Minute < 0 || c.ceiling.Hour < 0 || c.ceiling.Day < 0 {
			return &ValidationError{
				Field:   c.field,
				Message: "ceilings cannot be negative",
			}
		}
	}

	return nil
}

func validateRetry(cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "retry.max_attempts",
			Message: "max attempts cannot be negative",
		}
	}

	if cfg.Multiplier != 0 && cfg.Multiplier <= 1.0 {
		return &ValidationError{
			Field:   "retry.multiplier",
			Message: "backoff multiplier must be > 1.0 so retry delays grow",
		}
	}

	if cfg.JitterFraction < 0 || cfg.JitterFraction >= 1.0 {
		return &ValidationError{
			Field:   "retry.jitter_fraction",
			Message: "jitter fraction must be in [0, 1)",
		}
	}

	return nil
}
