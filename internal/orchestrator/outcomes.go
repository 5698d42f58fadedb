package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"beacon/internal/delivery"
	"beacon/internal/queue"
	"beacon/internal/records"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	"beacon/pkg/retry"
)

const (
	reasonMaxAttempts = "max_attempts_exhausted"
	reasonPermanent   = "permanent_failure"
)

// RunOutcomes consumes delivery results until the context is cancelled or
// the channel closes. Outcome handling is the only writer of terminal record
// states, and every write goes through the conditional mark so a late result
// can never resurrect a finished record.
func (s *Service) RunOutcomes(ctx context.Context, results <-chan delivery.Result) {
	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			s.handleOutcome(ctx, result)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) handleOutcome(ctx context.Context, result delivery.Result) {
	ctx = logging.WithRecordID(ctx, result.Item.RecordID)
	ctx = logging.WithFingerprint(ctx, result.Item.Fingerprint)

	switch result.Outcome {
	case delivery.OutcomeSent:
		s.handleSent(ctx, result)
	case delivery.OutcomeTransient:
		s.handleTransient(ctx, result)
	case delivery.OutcomePermanent:
		s.deadLetter(ctx, result, reasonPermanent)
	}
}

func (s *Service) handleSent(ctx context.Context, result delivery.Result) {
	item := result.Item
	attempts := item.Attempt

	marked, err := s.records.MarkIfNotTerminal(ctx, item.RecordID, records.Update{
		Status:           records.StatusSent,
		Attempts:         &attempts,
		DeliveredChannel: string(result.Channel),
		AppendAttempt:    s.attemptEntry(item, result),
		ClearNextRetry:   true,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark record sent",
			"error", err,
		)
		return
	}
	if !marked {
		s.logger.DebugwCtx(ctx, "Ignoring sent outcome for terminal record")
		return
	}

	s.logger.InfowCtx(ctx, "Notification delivered",
		"channel", result.Channel,
		"attempt", item.Attempt,
	)
}

// handleTransient schedules another attempt with exponential backoff, or
// dead-letters the item once its attempts are spent. Jitter is additive only
// so consecutive delays stay monotonic below the cap.
func (s *Service) handleTransient(ctx context.Context, result delivery.Result) {
	item := result.Item

	if item.Attempt >= s.maxAttempts(item.Event.EventType) {
		s.deadLetter(ctx, result, reasonMaxAttempts)
		return
	}

	delay := retry.CalculateBackoffDuration(
		item.Attempt-1,
		s.retryCfg.InitialInterval,
		s.retryCfg.Multiplier,
		s.retryCfg.MaxInterval,
	)
	s.mu.Lock()
	delay = retry.AddJitter(delay, s.retryCfg.JitterFraction, s.retryCfg.MaxInterval, s.rand)
	s.mu.Unlock()

	notBefore := s.now().Add(delay)
	attempts := item.Attempt

	marked, err := s.records.MarkIfNotTerminal(ctx, item.RecordID, records.Update{
		Status:        records.StatusRetryScheduled,
		Attempts:      &attempts,
		AppendAttempt: s.attemptEntry(item, result),
		NextRetryAt:   &notBefore,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark record for retry",
			"error", err,
		)
		return
	}
	if !marked {
		s.logger.DebugwCtx(ctx, "Ignoring transient outcome for terminal record")
		return
	}

	item.Attempt++
	s.manager.ScheduleRetry(item, notBefore)

	metrics.RetryAttemptsTotal.WithLabelValues(item.Event.EventType).Inc()
	s.logger.InfowCtx(ctx, "Delivery failed, retry scheduled",
		"channel", result.Channel,
		"attempt", attempts,
		"next_attempt_at", notBefore,
		"detail", result.Detail,
	)
}

func (s *Service) deadLetter(ctx context.Context, result delivery.Result, reason string) {
	item := result.Item
	attempts := item.Attempt

	marked, err := s.records.MarkIfNotTerminal(ctx, item.RecordID, records.Update{
		Status:           records.StatusDeadLetter,
		Attempts:         &attempts,
		AppendAttempt:    s.attemptEntry(item, result),
		DeadLetterReason: reason,
		ClearNextRetry:   true,
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark record dead-lettered",
			"error", err,
		)
		return
	}
	if !marked {
		s.logger.DebugwCtx(ctx, "Ignoring dead-letter outcome for terminal record")
		return
	}

	metrics.DeadLettersTotal.WithLabelValues(item.Event.EventType, reason).Inc()
	s.logger.WarnwCtx(ctx, "Notification dead-lettered",
		"reason", reason,
		"attempts", item.Attempt,
		"detail", result.Detail,
	)

	s.publishDeadLetter(ctx, item, reason, result.Detail)
}

type deadLetterMessage struct {
	RecordID    string      `json:"record_id"`
	Fingerprint string      `json:"fingerprint"`
	Reason      string      `json:"reason"`
	Detail      string      `json:"detail,omitempty"`
	Attempts    int         `json:"attempts"`
	Event       interface{} `json:"event"`
	FailedAt    time.Time   `json:"failed_at"`
}

func (s *Service) publishDeadLetter(ctx context.Context, item *queue.Item, reason, detail string) {
	if s.dlq == nil {
		return
	}

	msg, err := json.Marshal(deadLetterMessage{
		RecordID:    item.RecordID,
		Fingerprint: item.Fingerprint,
		Reason:      reason,
		Detail:      detail,
		Attempts:    item.Attempt,
		Event:       item.Event,
		FailedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to marshal dead-letter message",
			"error", err,
		)
		return
	}

	if err := s.dlq.Publish(ctx, s.dlqTopic, item.Event.RecipientID, msg); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish dead-letter message",
			"error", err,
		)
		return
	}
	metrics.DLQMessagesTotal.WithLabelValues("notify", s.dlqTopic, reason).Inc()
}

func (s *Service) attemptEntry(item *queue.Item, result delivery.Result) *records.Attempt {
	detail := result.Detail
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return &records.Attempt{
		Attempt: item.Attempt,
		Channel: string(result.Channel),
		Status:  string(result.Outcome),
		Detail:  detail,
		At:      s.now().UTC(),
	}
}
