package dedup

import (
	"context"
	"fmt"
	"time"

	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

type storeErrorHandlingStatus int

const (
	storeErrorHandlingDeny storeErrorHandlingStatus = iota
	storeErrorHandlingAllow
)

// Reservation is the outcome of a check-and-reserve. RecordID names the
// record that owns the fingerprint: the caller's candidate ID when unique,
// the original winner's ID when duplicate.
type Reservation struct {
	Duplicate         bool
	ByContent         bool
	RecordID          string
	DuplicatesBlocked int64
}

// Service implements the two-layer duplicate check: a local LRU in front of
// an atomic reservation against the persistent store. The store reservation
// is the only synchronization point in the engine and is scoped
// per-fingerprint.
type Service struct {
	repo             Repository
	hasher           *Hasher
	cache            *localCache
	cfg              config.DedupConfig
	logger           logger.Logger
	stopSizeMetrics  chan struct{}
	cancelMetricsCtx context.CancelFunc
}

// NewService creates a deduplication service instance.
func NewService(repo Repository, cfg config.DedupConfig, log logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		repo:             repo,
		hasher:           NewHasher("sha256"),
		cache:            newLocalCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second),
		cfg:              cfg,
		logger:           log,
		stopSizeMetrics:  make(chan struct{}),
		cancelMetricsCtx: cancel,
	}

	go s.updateStoreSizeMetrics(ctx)

	return s
}

// Hasher exposes the service's hasher so the orchestrator computes keys once.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// Window returns the deduplication window for an event type.
func (s *Service) Window(eventType string) time.Duration {
	if seconds, ok := s.cfg.WindowsByEventType[eventType]; ok {
		return time.Duration(seconds) * time.Second
	}
	if s.cfg.WindowSeconds > 0 {
		return time.Duration(s.cfg.WindowSeconds) * time.Second
	}
	return constants.DefaultDedupWindow
}

func (s *Service) contentWindow() time.Duration {
	if s.cfg.ContentWindowSeconds > 0 {
		return time.Duration(s.cfg.ContentWindowSeconds) * time.Second
	}
	return constants.DefaultContentWindow
}

// CheckAndReserve decides whether the event identified by (fingerprint,
// contentHash) may proceed. recordID is the candidate record that will own
// the reservation if the event is unique.
func (s *Service) CheckAndReserve(ctx context.Context, event models.NotificationEvent, fingerprint, contentHash, recordID string) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}

	fpKey := constants.CacheKeyPrefixFingerprint + fingerprint
	window := s.Window(event.EventType)

	// Local layer first: a hit means we already lost the reservation within
	// the cache TTL, no need to ask the store again.
	if original, ok := s.cache.Get(fingerprint); ok {
		blocked := s.countDuplicate(ctx, constants.CacheKeyPrefixDupCount+fingerprint, window)
		s.recordMetrics(0, "duplicate_local")
		return Reservation{Duplicate: true, RecordID: original, DuplicatesBlocked: blocked}, nil
	}

	start := time.Now()
	won, owner, err := s.repo.Reserve(ctx, fpKey, recordID, window)
	duration := time.Since(start)

	if err != nil {
		return s.handleStoreError(ctx, err, duration, fingerprint)
	}

	if !won {
		s.cache.Add(fingerprint, owner)
		blocked := s.countDuplicate(ctx, constants.CacheKeyPrefixDupCount+fingerprint, window)
		s.recordMetrics(duration, "duplicate")
		return Reservation{Duplicate: true, RecordID: owner, DuplicatesBlocked: blocked}, nil
	}

	s.cache.Add(fingerprint, recordID)

	// Secondary content check: same rendered content arriving under a
	// different fingerprint within the content window. Advisory but blocking.
	contentKey := constants.CacheKeyPrefixContent + contentHash
	wonContent, contentOwner, err := s.repo.Reserve(ctx, contentKey, recordID, s.contentWindow())
	if err != nil {
		// The fingerprint reservation already succeeded; a failed content
		// check degrades to admission rather than blocking it.
		s.logger.WarnwCtx(ctx, "Content-hash check failed, admitting on fingerprint only",
			"error", err,
		)
		s.recordMetrics(duration, "unique")
		return Reservation{RecordID: recordID}, nil
	}
	if !wonContent && contentOwner != recordID {
		blocked := s.countDuplicate(ctx, constants.CacheKeyPrefixDupCount+contentHash, s.contentWindow())
		s.logger.InfowCtx(ctx, "Same-content duplicate blocked under different fingerprint",
			"content_hash", contentHash,
			"original_record_id", contentOwner,
		)
		s.recordMetrics(duration, "duplicate_content")
		return Reservation{Duplicate: true, ByContent: true, RecordID: contentOwner, DuplicatesBlocked: blocked}, nil
	}

	s.recordMetrics(duration, "unique")
	return Reservation{RecordID: recordID}, nil
}

func (s *Service) countDuplicate(ctx context.Context, key string, window time.Duration) int64 {
	count, err := s.repo.IncrementDuplicates(ctx, key, window)
	if err != nil {
		s.logger.DebugwCtx(ctx, "Failed to count blocked duplicate",
			"error", err,
		)
		return 1
	}
	return count
}

func (s *Service) handleStoreError(ctx context.Context, err error, duration time.Duration, fingerprint string) (Reservation, error) {
	s.recordMetrics(duration, "error")

	if s.getStoreErrorHandlingStatus(ctx, err) == storeErrorHandlingAllow {
		return Reservation{}, nil
	}
	return Reservation{}, fmt.Errorf("store error during dedup check for fingerprint %s: %w", fingerprint, err)
}

func (s *Service) getStoreErrorHandlingStatus(ctx context.Context, err error) storeErrorHandlingStatus {
	if s.cfg.OnStoreError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", err.Error()).Inc()
		s.logger.WarnwCtx(ctx, "Store error during dedup check, admitting event (fallback: allow)",
			"error", err,
		)
		return storeErrorHandlingAllow
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error", err.Error()).Inc()
	return storeErrorHandlingDeny
}

func (s *Service) recordMetrics(duration time.Duration, status string) {
	metrics.DedupChecksTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		metrics.ObserveDedupDuration(duration, status)
	}
}

// PurgeLocalCache drops the in-process layer. Correctness is unaffected: the
// next check for any fingerprint falls through to the store.
func (s *Service) PurgeLocalCache() {
	s.cache.Purge()
}

func (s *Service) updateStoreSizeMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			size, err := s.repo.StoreSize(ctx, constants.CacheKeyPrefixFingerprint)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debugw("Failed to get dedup store size for metrics",
					"error", err,
				)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			metrics.SetDedupStoreSize(size)
		case <-s.stopSizeMetrics:
			return
		case <-ctx.Done():
			return
		}
	}
}

// StopStoreSizeUpdater stops the background store size metrics updater.
func (s *Service) StopStoreSizeUpdater() {
	if s.cancelMetricsCtx != nil {
		s.cancelMetricsCtx()
	}
	close(s.stopSizeMetrics)
}
