package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/models"
)

// WebhookAdapter POSTs the full event to a recipient-registered URL. Each
// request carries an HMAC-SHA256 signature over timestamp and body so the
// receiver can verify origin.
type WebhookAdapter struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger logger.Logger
	now    func() time.Time
}

func NewWebhookAdapter(cfg config.WebhookConfig, timeout time.Duration, log logger.Logger) *WebhookAdapter {
	return &WebhookAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log,
		now:    time.Now,
	}
}

func (a *WebhookAdapter) Type() Type {
	return TypeWebhook
}

func (a *WebhookAdapter) Deliver(ctx context.Context, event models.NotificationEvent, target Target) Result {
	if target.Endpoint == "" {
		return Result{Status: StatusUnavailable, Detail: "no webhook URL registered"}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("marshal webhook payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusPermanentFailure, Detail: fmt.Sprintf("build webhook request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	if a.cfg.SigningSecret != "" {
		timestamp := strconv.FormatInt(a.now().Unix(), 10)
		req.Header.Set("X-Beacon-Timestamp", timestamp)
		req.Header.Set("X-Beacon-Signature", a.sign(timestamp, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{Status: StatusTransientFailure, Detail: fmt.Sprintf("webhook request failed: %v", err)}
	}
	defer resp.Body.Close()

	return classifyHTTPStatus(resp.StatusCode, "webhook receiver")
}

func (a *WebhookAdapter) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SigningSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
