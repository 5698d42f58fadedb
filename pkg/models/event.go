package models

import "time"

// Priority orders notification delivery. Urgent and high events go through the
// immediate queue, normal and low through the batch queue.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// IsImmediate reports whether events of this priority bypass batching.
func (p Priority) IsImmediate() bool {
	return p == PriorityUrgent || p == PriorityHigh
}

// Well-known event types raised by the job pipeline. The engine treats the
// event type as an opaque key; these constants exist for producers and tests.
const (
	EventJobAssigned  = "job.assigned"
	EventJobUpdated   = "job.updated"
	EventJobCompleted = "job.completed"
	EventJobOverdue   = "job.overdue"
)

// Payload carries the rendered notification content. The engine never
// interprets it; it is hashed for duplicate detection and handed to channel
// adapters as-is.
type Payload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// NotificationEvent is the unit of work accepted by the engine. Recipient
// resolution happens upstream; by the time an event reaches Submit it names a
// single concrete recipient.
type NotificationEvent struct {
	EventType   string    `json:"event_type"`
	EntityID    string    `json:"entity_id"`
	RecipientID string    `json:"recipient_id"`
	Payload     Payload   `json:"payload"`
	Priority    Priority  `json:"priority"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// MissingFields returns the names of required fields that are empty. An empty
// slice means the event is structurally valid.
func (e *NotificationEvent) MissingFields() []string {
	var missing []string
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if e.RecipientID == "" {
		missing = append(missing, "recipient_id")
	}
	if e.SourceID == "" {
		missing = append(missing, "source_id")
	}
	return missing
}
