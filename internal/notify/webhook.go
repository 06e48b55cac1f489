package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polywatch/polywatch/internal/models"
)

// WebhookSink POSTs notifications as JSON to a configured URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink with a 10-second request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string {
	return "webhook"
}

// webhookEvent is the machine-readable wire form: the full event plus a
// rendered text line for consumers that only display messages.
type webhookEvent struct {
	Type  string             `json:"type"`
	Text  string             `json:"text"`
	Event models.ChangeEvent `json:"event"`
}

func (s *WebhookSink) Deliver(ctx context.Context, ev models.ChangeEvent) error {
	return s.post(ctx, webhookEvent{
		Type:  "change_event",
		Text:  ev.Summary(),
		Event: ev,
	})
}

func (s *WebhookSink) Post(ctx context.Context, text string) error {
	return s.post(ctx, map[string]string{
		"type": "notice",
		"text": text,
	})
}

func (s *WebhookSink) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
