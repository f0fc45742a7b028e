// Package jira logs work against Jira issues through the REST API v2.
package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"

	"example.com/worklog/internal/submission"
)

const worklogPageSize = 100

// Config holds Jira connection settings.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
}

// Client implements submission.Ticketing and submission.WorkLogFinder.
type Client struct {
	jira *gojira.Client
	log  *slog.Logger
}

// NewClient builds a Jira client that authenticates with an email and API
// token over basic auth.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("jira: missing base url")
	}
	if cfg.APIToken == "" {
		return nil, errors.New("jira: missing api token")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	transport := gojira.BasicAuthTransport{Username: cfg.Email, Password: cfg.APIToken}
	httpClient := transport.Client()
	httpClient.Timeout = cfg.Timeout

	client, err := gojira.NewClient(httpClient, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	return &Client{jira: client, log: log}, nil
}

// Marker is the tag embedded in worklog comments to find earlier writes.
func Marker(idempotenceKey string) string {
	return "[worklog:" + idempotenceKey + "]"
}

// LogWork adds a worklog to the issue named by wl.Target. Jira rejects
// anything under a minute, so shorter durations are rounded up.
func (c *Client) LogWork(ctx context.Context, wl submission.WorkLog) (string, error) {
	seconds := int(wl.Duration / time.Second)
	if seconds < 60 {
		seconds = 60
	}
	comment := strings.TrimSpace(wl.Description)
	if comment == "" {
		comment = "Work logged by worklog"
	}
	started := gojira.Time(wl.Started)
	record := &gojira.WorklogRecord{
		TimeSpentSeconds: seconds,
		Started:          &started,
		Comment:          comment + "\n\n" + Marker(wl.IdempotenceKey),
	}

	created, resp, err := c.jira.Issue.AddWorklogRecordWithContext(ctx, wl.Target, record)
	if err != nil {
		return "", remoteError(resp, err)
	}
	c.log.Info("logged work",
		slog.String("issue", wl.Target),
		slog.String("time_spent", formatSpent(seconds)),
		slog.String("worklog_id", created.ID),
	)
	return created.ID, nil
}

// FindWorkLog looks for a worklog on the issue whose comment carries the
// idempotence marker.
func (c *Client) FindWorkLog(ctx context.Context, target, idempotenceKey string) (string, bool, error) {
	marker := Marker(idempotenceKey)
	startAt := 0
	for {
		page, resp, err := c.jira.Issue.GetWorklogsWithContext(ctx, target, pageAt(startAt))
		if err != nil {
			return "", false, remoteError(resp, err)
		}
		for _, w := range page.Worklogs {
			if strings.Contains(w.Comment, marker) {
				return w.ID, true, nil
			}
		}
		startAt += len(page.Worklogs)
		if len(page.Worklogs) == 0 || startAt >= page.Total {
			return "", false, nil
		}
	}
}

func pageAt(startAt int) func(*http.Request) error {
	return func(req *http.Request) error {
		q := req.URL.Query()
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(worklogPageSize))
		req.URL.RawQuery = q.Encode()
		return nil
	}
}

// remoteError keeps transport failures as they are and turns HTTP answers
// into submission.RemoteError so the engine can tell refusals apart.
func remoteError(resp *gojira.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	return &submission.RemoteError{StatusCode: resp.StatusCode, Message: err.Error()}
}

// formatSpent renders seconds the way Jira displays timeSpent, e.g. "2h 30m".
func formatSpent(seconds int) string {
	h, m := seconds/3600, (seconds%3600)/60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return "1m"
	}
}
