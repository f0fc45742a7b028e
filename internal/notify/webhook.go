package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Format renders a notification into the chat message text.
type Format func(Notification) string

// SlackFormat uses Slack mrkdwn bold for the subject.
func SlackFormat(n Notification) string {
	return fmt.Sprintf("*%s*\n\n%s", n.Subject(), n.Body())
}

// TeamsFormat uses a markdown heading for the subject.
func TeamsFormat(n Notification) string {
	return fmt.Sprintf("## %s\n\n%s", n.Subject(), n.Body())
}

// Webhook posts {"text": ...} to an incoming webhook URL. Slack and Teams
// both accept this shape.
type Webhook struct {
	url    string
	format Format
	client *http.Client
	logger *slog.Logger
}

// NewWebhook posts notifications to url in the given chat format.
func NewWebhook(url string, format Format, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{url: url, format: format, client: &http.Client{Timeout: timeout}, logger: logger}
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(map[string]string{"text": w.format(n)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode, string(body))
	}
	w.logger.Info("notification sent", slog.String("draft_key", n.DraftKey), slog.String("channel", "webhook"))
	return nil
}
