package queue

import (
	"time"

	"beacon/internal/channel"
	"beacon/pkg/models"
)

// Name labels the logical queues for metrics and logs.
const (
	NameImmediate = "immediate"
	NameBatch     = "batch"
	NameRetry     = "retry"
)

// Item is a unit of delivery work. Plan is the ordered list of channel
// targets resolved at admission; Attempt counts full plan walks, starting at
// 1. NotBefore is set only for retry-scheduled items. AwaitingQuota marks an
// item parked by the rate limiter before consuming quota; it must pass the
// limiter again before delivery.
type Item struct {
	ID            string
	Event         models.NotificationEvent
	Fingerprint   string
	RecordID      string
	Plan          []channel.Target
	Attempt       int
	NotBefore     time.Time
	EnqueuedAt    time.Time
	AwaitingQuota bool
}
