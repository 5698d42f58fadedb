package broker

import (
	"context"

	"beacon/pkg/models"
)

// Producer publishes raw messages keyed for partition affinity.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Consumer drives a HandlerFunc over a topic until its context ends.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one decoded notification event. A non-nil error
// after the consumer's retries sends the raw message to the ingress DLQ.
type HandlerFunc func(ctx context.Context, event models.NotificationEvent) error
