package records

import (
	"time"

	"beacon/pkg/models"
)

// Status is the lifecycle state of a notification record. Sent and
// dead_letter are terminal; duplicate marks records created for blocked
// submissions so they stay queryable.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInFlight       Status = "in_flight"
	StatusSent           Status = "sent"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusDeadLetter     Status = "dead_letter"
	StatusDuplicate      Status = "duplicate"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusDeadLetter || s == StatusDuplicate
}

// Attempt is one channel invocation within a delivery attempt.
type Attempt struct {
	Attempt int       `bson:"attempt" json:"attempt"`
	Channel string    `bson:"channel" json:"channel"`
	Status  string    `bson:"status" json:"status"`
	Detail  string    `bson:"detail,omitempty" json:"detail,omitempty"`
	At      time.Time `bson:"at" json:"at"`
}

// Record is the durable trail of one accepted submission. The in-memory
// queues carry the working copy; the record is what survives a restart and
// what the operational API serves.
type Record struct {
	ID               string                   `bson:"_id" json:"id"`
	Fingerprint      string                   `bson:"fingerprint" json:"fingerprint"`
	ContentHash      string                   `bson:"content_hash" json:"content_hash"`
	Event            models.NotificationEvent `bson:"event" json:"event"`
	Status           Status                   `bson:"status" json:"status"`
	Attempts         int                      `bson:"attempts" json:"attempts"`
	History          []Attempt                `bson:"history,omitempty" json:"history,omitempty"`
	DeliveredChannel string                   `bson:"delivered_channel,omitempty" json:"delivered_channel,omitempty"`
	DeadLetterReason string                   `bson:"dead_letter_reason,omitempty" json:"dead_letter_reason,omitempty"`
	DuplicateOf      string                   `bson:"duplicate_of,omitempty" json:"duplicate_of,omitempty"`
	NextRetryAt      *time.Time               `bson:"next_retry_at,omitempty" json:"next_retry_at,omitempty"`
	CreatedAt        time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time                `bson:"updated_at" json:"updated_at"`
}
