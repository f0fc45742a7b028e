package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

// GoogleCalendarConfig points at the OAuth client secrets and a previously
// authorised token. Obtaining the token is left to the operator.
type GoogleCalendarConfig struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
}

// GoogleCalendar lists timed events from one Google calendar.
type GoogleCalendar struct {
	srv        *calendar.Service
	calendarID string
}

// NewGoogleCalendar creates an authenticated calendar adapter.
func NewGoogleCalendar(ctx context.Context, cfg GoogleCalendarConfig) (*GoogleCalendar, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", cfg.CredentialsFile, err)
	}
	oauthCfg, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google Calendar service: %w", err)
	}
	return NewGoogleCalendarWithService(srv, cfg.CalendarID), nil
}

// NewGoogleCalendarWithService wraps an existing service.
func NewGoogleCalendarWithService(srv *calendar.Service, calendarID string) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{srv: srv, calendarID: calendarID}
}

func (c *GoogleCalendar) Source() domain.Source { return domain.SourceCalendar }

// Fetch expands recurring events into instances so every payload is a
// concrete occurrence inside the range.
func (c *GoogleCalendar) Fetch(ctx context.Context, rng domain.DateRange) ([]normalize.RawPayload, error) {
	var out []normalize.RawPayload
	call := c.srv.Events.List(c.calendarID).
		TimeMin(rng.Start.Format(time.RFC3339)).
		TimeMax(rng.End.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, ev := range page.Items {
			p, err := payload(domain.SourceCalendar, ev)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return out, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open oauth token %s: %w", file, err)
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}
