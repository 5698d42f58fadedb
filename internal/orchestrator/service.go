package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/dedup"
	"beacon/internal/logger"
	"beacon/internal/queue"
	"beacon/internal/ratelimit"
	"beacon/internal/records"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

// deduper and limiter are the slices of the admission services the
// orchestrator needs; tests swap in fakes.
type deduper interface {
	CheckAndReserve(ctx context.Context, event models.NotificationEvent, fingerprint, contentHash, recordID string) (dedup.Reservation, error)
}

type limiter interface {
	TryConsume(ctx context.Context, recipientID, eventType string, priority models.Priority) (ratelimit.Decision, error)
}

type router interface {
	ResolveChannels(ctx context.Context, event models.NotificationEvent) ([]channel.Target, error)
}

// SubmitResult tells the producer what happened to its event. Duplicate and
// Deferred submissions are accepted in the HTTP sense; only validation and
// infrastructure failures surface as errors.
type SubmitResult struct {
	RecordID          string        `json:"record_id"`
	Duplicate         bool          `json:"duplicate,omitempty"`
	ByContent         bool          `json:"by_content,omitempty"`
	DuplicatesBlocked int64         `json:"duplicates_blocked,omitempty"`
	Deferred          bool          `json:"deferred,omitempty"`
	RetryAfter        time.Duration `json:"retry_after,omitempty"`
}

// Service is the admission pipeline and outcome loop. Submit is safe for
// concurrent use; all cross-submission coordination happens in the dedup
// store and the rate counters.
type Service struct {
	hasher  *dedup.Hasher
	deduper deduper
	limiter limiter
	router  router
	manager *queue.Manager
	records records.Repository
	dlq     channel.Publisher

	retryCfg config.RetryConfig
	dlqTopic string
	logger   logger.Logger

	now  func() time.Time
	rand *rand.Rand
	mu   sync.Mutex
}

func NewService(
	hasher *dedup.Hasher,
	deduper deduper,
	limiter limiter,
	router router,
	manager *queue.Manager,
	recordsRepo records.Repository,
	dlq channel.Publisher,
	retryCfg config.RetryConfig,
	dlqTopic string,
	log logger.Logger,
) *Service {
	return &Service{
		hasher:   hasher,
		deduper:  deduper,
		limiter:  limiter,
		router:   router,
		manager:  manager,
		records:  recordsRepo,
		dlq:      dlq,
		retryCfg: retryCfg,
		dlqTopic: dlqTopic,
		logger:   log,
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock replaces the time source, for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit runs the admission pipeline: validate, fingerprint, dedup, rate
// limit, resolve channels, persist, enqueue. The dedup reservation happens
// before the record insert; if the insert fails the reservation simply
// expires with its window.
func (s *Service) Submit(ctx context.Context, event models.NotificationEvent, source string) (SubmitResult, error) {
	if event.Priority == "" {
		event.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(event.Priority) {
		metrics.SubmissionsTotal.WithLabelValues(source, "invalid").Inc()
		return SubmitResult{}, apperrors.ErrValidation.WithDetail("field", "priority").WithDetail("value", string(event.Priority))
	}
	if missing := event.MissingFields(); len(missing) > 0 {
		metrics.SubmissionsTotal.WithLabelValues(source, "invalid").Inc()
		return SubmitResult{}, apperrors.ErrValidation.WithDetail("missing_fields", missing)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	fingerprint, err := s.hasher.Fingerprint(event)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "invalid").Inc()
		return SubmitResult{}, apperrors.ErrValidation.WithCause(err)
	}
	contentHash, err := s.hasher.ContentHash(event.Payload)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "invalid").Inc()
		return SubmitResult{}, apperrors.ErrValidation.WithCause(err)
	}
	recordID := uuid.New().String()

	ctx = logging.WithRecordID(ctx, recordID)
	ctx = logging.WithFingerprint(ctx, fingerprint)

	reservation, err := s.deduper.CheckAndReserve(ctx, event, fingerprint, contentHash, recordID)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "error").Inc()
		return SubmitResult{}, err
	}
	if reservation.Duplicate {
		return s.admitDuplicate(ctx, event, fingerprint, contentHash, recordID, reservation, source)
	}

	decision, err := s.limiter.TryConsume(ctx, event.RecipientID, event.EventType, event.Priority)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "error").Inc()
		return SubmitResult{}, err
	}

	plan, err := s.router.ResolveChannels(ctx, event)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "error").Inc()
		return SubmitResult{}, err
	}

	if !decision.Allowed {
		return s.admitDeferred(ctx, event, fingerprint, contentHash, recordID, plan, decision, source)
	}

	record := &records.Record{
		ID:          recordID,
		Fingerprint: fingerprint,
		ContentHash: contentHash,
		Event:       event,
		Status:      records.StatusQueued,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "error").Inc()
		return SubmitResult{}, err
	}

	s.manager.Enqueue(&queue.Item{
		ID:          uuid.New().String(),
		Event:       event,
		Fingerprint: fingerprint,
		RecordID:    recordID,
		Plan:        plan,
		Attempt:     1,
	})

	metrics.SubmissionsTotal.WithLabelValues(source, "accepted").Inc()
	s.logger.InfowCtx(ctx, "Event accepted",
		"event_type", event.EventType,
		"priority", event.Priority,
		"channels", len(plan),
	)

	return SubmitResult{RecordID: recordID}, nil
}

// admitDuplicate records the blocked submission so it stays queryable, then
// points the producer at the record that won the window.
func (s *Service) admitDuplicate(ctx context.Context, event models.NotificationEvent, fingerprint, contentHash, recordID string, reservation dedup.Reservation, source string) (SubmitResult, error) {
	record := &records.Record{
		ID:          recordID,
		Fingerprint: fingerprint,
		ContentHash: contentHash,
		Event:       event,
		Status:      records.StatusDuplicate,
		DuplicateOf: reservation.RecordID,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to persist duplicate record",
			"error", err,
		)
	}

	metrics.SubmissionsTotal.WithLabelValues(source, "duplicate").Inc()
	s.logger.InfowCtx(ctx, "Duplicate submission blocked",
		"event_type", event.EventType,
		"original_record_id", reservation.RecordID,
		"by_content", reservation.ByContent,
	)

	original := reservation.RecordID
	if original == "" {
		original = recordID
	}
	return SubmitResult{
		RecordID:          original,
		Duplicate:         true,
		ByContent:         reservation.ByContent,
		DuplicatesBlocked: reservation.DuplicatesBlocked,
	}, nil
}

// admitDeferred parks a rate-limited event in the retry queue until its
// window rolls over. Deferral does not consume a delivery attempt.
func (s *Service) admitDeferred(ctx context.Context, event models.NotificationEvent, fingerprint, contentHash, recordID string, plan []channel.Target, decision ratelimit.Decision, source string) (SubmitResult, error) {
	notBefore := s.now().Add(decision.RetryAfter)

	record := &records.Record{
		ID:          recordID,
		Fingerprint: fingerprint,
		ContentHash: contentHash,
		Event:       event,
		Status:      records.StatusRetryScheduled,
		NextRetryAt: &notBefore,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(source, "error").Inc()
		return SubmitResult{}, err
	}

	s.manager.ScheduleRetry(&queue.Item{
		ID:            uuid.New().String(),
		Event:         event,
		Fingerprint:   fingerprint,
		RecordID:      recordID,
		Plan:          plan,
		Attempt:       1,
		AwaitingQuota: true,
	}, notBefore)

	metrics.SubmissionsTotal.WithLabelValues(source, "deferred").Inc()
	s.logger.InfowCtx(ctx, "Event deferred by rate limit",
		"event_type", event.EventType,
		"scope", decision.Scope,
		"window", decision.Window,
		"retry_after", decision.RetryAfter,
	)

	return SubmitResult{
		RecordID:   recordID,
		Deferred:   true,
		RetryAfter: decision.RetryAfter,
	}, nil
}

// AdmitForDelivery is handed to the delivery pool and runs before each plan
// walk. Items parked by the rate limiter never consumed quota, so they must
// pass the limiter here; a still-exhausted window re-parks the item without
// consuming an attempt.
func (s *Service) AdmitForDelivery(ctx context.Context, item *queue.Item) bool {
	if item.AwaitingQuota && !s.consumeQuota(ctx, item) {
		return false
	}

	if _, err := s.records.MarkIfNotTerminal(ctx, item.RecordID, records.Update{
		Status: records.StatusInFlight,
	}); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to mark record in flight",
			"error", err,
		)
	}
	return true
}

func (s *Service) consumeQuota(ctx context.Context, item *queue.Item) bool {
	ctx = logging.WithRecordID(ctx, item.RecordID)

	decision, err := s.limiter.TryConsume(ctx, item.Event.RecipientID, item.Event.EventType, item.Event.Priority)
	if err != nil {
		// The window already deferred this event once; failing the counter
		// store now degrades to delivery rather than losing the item.
		s.logger.WarnwCtx(ctx, "Rate limit re-check failed, delivering deferred event",
			"error", err,
		)
		item.AwaitingQuota = false
		return true
	}
	if decision.Allowed {
		item.AwaitingQuota = false
		return true
	}

	notBefore := s.now().Add(decision.RetryAfter)
	if _, err := s.records.MarkIfNotTerminal(ctx, item.RecordID, records.Update{
		Status:      records.StatusRetryScheduled,
		NextRetryAt: &notBefore,
	}); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to re-mark deferred record",
			"error", err,
		)
	}
	s.manager.ScheduleRetry(item, notBefore)

	s.logger.InfowCtx(ctx, "Deferred event still rate limited, re-parked",
		"scope", decision.Scope,
		"window", decision.Window,
		"retry_after", decision.RetryAfter,
	)
	return false
}

func (s *Service) maxAttempts(eventType string) int {
	if max, ok := s.retryCfg.MaxAttemptsByEventType[eventType]; ok && max > 0 {
		return max
	}
	if s.retryCfg.MaxAttempts > 0 {
		return s.retryCfg.MaxAttempts
	}
	return constants.DefaultMaxAttempts
}
