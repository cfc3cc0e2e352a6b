package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted for each alert.
type webhookPayload struct {
	Alert
	TS string `json:"ts"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: newHTTPClient(),
		log:    log.With("component", "notify", "backend", "webhook"),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	p := webhookPayload{Alert: alert, TS: time.Now().UTC().Format(time.RFC3339Nano)}
	if err := postJSON(ctx, w.client, w.url, p); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	w.log.Debug("alert delivered", "title", alert.Title, "level", alert.Level)
	return nil
}
