package integration

import (
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/pkg/models"
)

const containerStartupTimeout = 60

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		WindowSeconds:        300,
		ContentWindowSeconds: 60,
		CacheSize:            1024,
		CacheTTLSeconds:      300,
		OnStoreError:         constants.FallbackDeny,
	}
}

func createTestEvent(eventType, entityID, recipientID string) models.NotificationEvent {
	return models.NotificationEvent{
		EventType:   eventType,
		EntityID:    entityID,
		RecipientID: recipientID,
		SourceID:    "scheduler",
		Priority:    models.PriorityNormal,
		Payload: models.Payload{
			Title: "Test notification",
			Body:  "Test body",
		},
	}
}
