package delivery

import (
	"beacon/internal/channel"
	"beacon/internal/queue"
)

// Outcome summarizes one full plan walk for an item.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// Result is reported to the orchestrator after each attempt. Channel names
// the channel that produced the outcome; for a transient outcome caused by
// every channel being unavailable it is empty.
type Result struct {
	Item    *queue.Item
	Outcome Outcome
	Channel channel.Type
	Detail  string
}
