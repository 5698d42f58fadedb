package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/models"
)

type pushRequest struct {
	DeviceToken string                 `json:"device_token"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Priority    string                 `json:"priority"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// PushAdapter sends notifications to a mobile push gateway over HTTP. The
// target endpoint is the recipient's device token; without one the channel
// is unavailable for that recipient.
type PushAdapter struct {
	cfg    config.PushConfig
	client *http.Client
	logger logger.Logger
}

func NewPushAdapter(cfg config.PushConfig, timeout time.Duration, log logger.Logger) *PushAdapter {
	return &PushAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

func (a *PushAdapter) Type() Type {
	return TypePush
}

func (a *PushAdapter) Deliver(ctx context.Context, event models.NotificationEvent, target Target) Result {
	if a.cfg.GatewayURL == "" {
		return Result{Status: StatusUnavailable, Detail: "push gateway not configured"}
	}
	if target.Endpoint == "" {
		return Result{Status: StatusUnavailable, Detail: "no device token registered"}
	}

	body, err := json.Marshal(pushRequest{
		DeviceToken: target.Endpoint,
		Title:       event.Payload.Title,
		Body:        event.Payload.Body,
		Priority:    string(event.Priority),
		Data:        event.Payload.Data,
	})
	if err != nil {
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("marshal push request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("build push request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth another attempt.
		return Result{Status: StatusTransientFailure, Detail: fmt.Sprintf("push gateway request failed: %v", err)}
	}
	defer resp.Body.Close()

	return classifyHTTPStatus(resp.StatusCode, "push gateway")
}

// classifyHTTPStatus maps an upstream HTTP status onto a delivery status.
// 4xx means the request itself is wrong and will never succeed; 429 and 5xx
// are conditions that pass with time.
func classifyHTTPStatus(code int, upstream string) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Status: StatusSent}
	case code == http.StatusTooManyRequests:
		return Result{Status: StatusTransientFailure, Detail: fmt.Sprintf("%s throttled (429)", upstream)}
	case code >= 500:
		return Result{Status: StatusTransientFailure, Detail: fmt.Sprintf("%s returned %d", upstream, code)}
	case code == http.StatusNotFound || code == http.StatusGone:
		// Stale endpoint registration. Another channel may still reach the
		// recipient on this attempt.
		return Result{Status: StatusUnavailable, Detail: fmt.Sprintf("%s endpoint gone (%d)", upstream, code)}
	default:
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("%s rejected request (%d)", upstream, code)}
	}
}
