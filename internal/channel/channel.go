package channel

import (
	"context"

	"beacon/pkg/models"
)

// Type identifies a delivery channel.
type Type string

const (
	TypePush     Type = "push"
	TypeWebhook  Type = "webhook"
	TypeRealtime Type = "realtime"
)

// ValidType reports whether t names a known channel.
func ValidType(t Type) bool {
	switch t {
	case TypePush, TypeWebhook, TypeRealtime:
		return true
	}
	return false
}

// Status classifies the outcome of a single adapter invocation. The worker
// reacts to each differently: sent stops the plan walk, unavailable moves to
// the next channel on the same attempt, transient schedules a retry,
// permanent dead-letters immediately.
type Status string

const (
	StatusSent             Status = "sent"
	StatusUnavailable      Status = "unavailable"
	StatusTransientFailure Status = "transient_failure"
	StatusPermanentFailure Status = "permanent_failure"
)

// Target is one step of a delivery plan: a channel plus the recipient's
// endpoint on it. Endpoint may be empty when the channel needs none
// (realtime) or when no preference is registered (the adapter decides).
type Target struct {
	Type     Type   `json:"type"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Result is what an adapter reports back. Detail is free-form diagnostic
// text, recorded on the notification record and in logs.
type Result struct {
	Status Status
	Detail string
}

// Adapter delivers one event to one target. Implementations classify every
// failure into a Status rather than returning an error: the worker's plan
// walk is driven entirely by the status.
type Adapter interface {
	Type() Type
	Deliver(ctx context.Context, event models.NotificationEvent, target Target) Result
}
