// Package notify tells the reviewer that a draft is waiting for them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"example.com/worklog/internal/domain"
)

// Notification describes a draft that was persisted for review.
type Notification struct {
	Range                      domain.DateRange
	DraftKey                   string
	RunID                      string
	EntryCount                 int
	CategorizationFailureCount int
	TotalDuration              time.Duration
	Categories                 []domain.CategoryTotal
}

// NewNotification summarises a persisted draft.
func NewNotification(d domain.Draft) Notification {
	return Notification{
		Range:                      d.Range,
		DraftKey:                   d.Key,
		RunID:                      d.RunID,
		EntryCount:                 len(d.Entries),
		CategorizationFailureCount: d.CategorizationFailures(),
		TotalDuration:              d.TotalDuration(),
		Categories:                 domain.CategoryTotals(d.Entries),
	}
}

// Subject is the one-line headline shared by every channel.
func (n Notification) Subject() string {
	return "Worklog draft ready for review - " + n.Range.String()
}

// Body renders the plain text message.
func (n Notification) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft %s is pending review.\n", n.DraftKey)
	fmt.Fprintf(&b, "Entries: %d\n", n.EntryCount)
	fmt.Fprintf(&b, "Total: %s\n", domain.FormatDuration(n.TotalDuration))
	if n.CategorizationFailureCount > 0 {
		fmt.Fprintf(&b, "Categorization failures: %d (review these before approving)\n", n.CategorizationFailureCount)
	}
	if len(n.Categories) > 0 {
		b.WriteString("\n")
		for _, c := range n.Categories {
			fmt.Fprintf(&b, "%s: %s (%d)\n", c.Category, domain.FormatDuration(c.Duration), c.Entries)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier delivers notifications. Callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }

// Config selects and configures a delivery channel.
type Config struct {
	Method          string
	SlackWebhookURL string
	TeamsWebhookURL string
	SMTP            SMTPConfig
	Timeout         time.Duration
}

// New builds the notifier named by cfg.Method.
func New(cfg Config, logger *slog.Logger) (Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Method)) {
	case "", "none", "noop":
		return Noop{}, nil
	case "slack":
		if cfg.SlackWebhookURL == "" {
			return nil, fmt.Errorf("notify: slack webhook url not configured")
		}
		return NewWebhook(cfg.SlackWebhookURL, SlackFormat, cfg.Timeout, logger), nil
	case "teams":
		if cfg.TeamsWebhookURL == "" {
			return nil, fmt.Errorf("notify: teams webhook url not configured")
		}
		return NewWebhook(cfg.TeamsWebhookURL, TeamsFormat, cfg.Timeout, logger), nil
	case "email", "smtp":
		return NewEmail(cfg.SMTP, logger)
	default:
		return nil, fmt.Errorf("notify: unknown method %q", cfg.Method)
	}
}
