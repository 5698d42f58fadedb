package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"beacon/internal/logger"
	"beacon/pkg/models"
)

// Publisher abstracts the broker producer so this package does not depend on
// the broker wiring.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type realtimeMessage struct {
	RecipientID string         `json:"recipient_id"`
	EventType   string         `json:"event_type"`
	EntityID    string         `json:"entity_id"`
	Priority    string         `json:"priority"`
	Payload     models.Payload `json:"payload"`
}

// RealtimeAdapter publishes to the realtime topic, keyed by recipient so a
// recipient's notifications stay ordered on one partition. Connected clients
// consume it through the websocket tier; this engine only produces.
type RealtimeAdapter struct {
	publisher Publisher
	topic     string
	logger    logger.Logger
}

func NewRealtimeAdapter(publisher Publisher, topic string, log logger.Logger) *RealtimeAdapter {
	return &RealtimeAdapter{
		publisher: publisher,
		topic:     topic,
		logger:    log,
	}
}

func (a *RealtimeAdapter) Type() Type {
	return TypeRealtime
}

func (a *RealtimeAdapter) Deliver(ctx context.Context, event models.NotificationEvent, target Target) Result {
	if a.publisher == nil {
		return Result{Status: StatusUnavailable, Detail: "realtime broker not configured"}
	}

	msg, err := json.Marshal(realtimeMessage{
		RecipientID: event.RecipientID,
		EventType:   event.EventType,
		EntityID:    event.EntityID,
		Priority:    string(event.Priority),
		Payload:     event.Payload,
	})
	if err != nil {
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("marshal realtime message: %v", err)}
	}

	if err := a.publisher.Publish(ctx, a.topic, event.RecipientID, msg); err != nil {
		return Result{Status: StatusTransientFailure, Detail: fmt.Sprintf("realtime publish failed: %v", err)}
	}

	return Result{Status: StatusSent}
}
