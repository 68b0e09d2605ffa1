package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
)

// Webhook posts alerts to a Slack, Teams or generic JSON endpoint.
type Webhook struct {
	name   string
	kind   string
	url    string
	client *http.Client
}

// NewWebhook creates a webhook channel. kind is slack, teams or http.
func NewWebhook(name, kind, url string, client *http.Client) (*Webhook, error) {
	switch kind {
	case "slack", "teams", "http":
	default:
		return nil, fmt.Errorf("notify: unknown webhook type %q", kind)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Webhook{name: name, kind: kind, url: url, client: client}, nil
}

// Name implements Channel.
func (w *Webhook) Name() string { return w.name }

// Send implements Channel.
func (w *Webhook) Send(ctx context.Context, a alerts.Alert) error {
	var payload any
	switch w.kind {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message()),
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a.Severity),
			"summary":    a.Ticker,
			"title":      a.Title(),
			"text":       a.Message(),
		}
	default:
		payload = map[string]any{"alert": a}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s alerts.Severity) string {
	switch s {
	case alerts.SeverityCritical:
		return "[CRITICAL]"
	case alerts.SeverityHigh:
		return "[HIGH]"
	default:
		return "[MODERATE]"
	}
}

func severityColor(s alerts.Severity) string {
	switch s {
	case alerts.SeverityCritical:
		return "FF4F6A"
	case alerts.SeverityHigh:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
