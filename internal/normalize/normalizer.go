// Package normalize turns raw provider payloads into activity records.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"example.com/worklog/internal/domain"
)

type mapper func(body json.RawMessage) (domain.ActivityRecord, error)

// Normalizer maps each raw payload to exactly one record or one rejection.
type Normalizer struct {
	loc     *time.Location
	logger  *slog.Logger
	mappers map[domain.Source]mapper
}

// Option customises the Normalizer.
type Option func(*Normalizer)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New constructs a Normalizer that reports instants in loc.
func New(loc *time.Location, opts ...Option) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	n := &Normalizer{loc: loc, logger: slog.Default()}
	n.mappers = map[domain.Source]mapper{
		domain.SourceCalendar: n.calendar,
		domain.SourceChat:     n.chat,
		domain.SourceCommit:   n.commit,
		domain.SourceCoding:   n.coding,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts every payload. Rejections are logged and returned next
// to the records; they never stop the remaining payloads.
func (n *Normalizer) Normalize(payloads []RawPayload) ([]domain.ActivityRecord, []*domain.NormalizationError) {
	records := make([]domain.ActivityRecord, 0, len(payloads))
	var rejected []*domain.NormalizationError
	for _, p := range payloads {
		record, err := n.One(p)
		if err != nil {
			rejected = append(rejected, err)
			normalizedTotal.WithLabelValues(string(p.Source), "rejected").Inc()
			n.logger.Warn("rejected activity payload",
				slog.String("source", string(p.Source)),
				slog.String("source_id", err.SourceID),
				slog.String("reason", err.Reason),
			)
			continue
		}
		normalizedTotal.WithLabelValues(string(p.Source), "accepted").Inc()
		records = append(records, record)
	}
	return records, rejected
}

// One converts a single payload.
func (n *Normalizer) One(p RawPayload) (domain.ActivityRecord, *domain.NormalizationError) {
	m, ok := n.mappers[p.Source]
	if !ok {
		return domain.ActivityRecord{}, &domain.NormalizationError{Source: p.Source, Reason: "unknown source"}
	}
	record, err := m(p.Body)
	if err == nil {
		record.Source = p.Source
		err = record.Validate()
	}
	if err != nil {
		return domain.ActivityRecord{}, &domain.NormalizationError{Source: p.Source, SourceID: record.SourceID, Reason: err.Error()}
	}
	record.Start = record.Start.In(n.loc)
	record.End = record.End.In(n.loc)
	return record, nil
}

func (n *Normalizer) calendar(body json.RawMessage) (domain.ActivityRecord, error) {
	var ev CalendarEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode calendar event: %w", err)
	}
	record := domain.ActivityRecord{SourceID: ev.ID, Title: strings.TrimSpace(ev.Summary), Description: strings.TrimSpace(ev.Description)}
	if ev.Status == "cancelled" {
		return record, fmt.Errorf("event is cancelled")
	}
	if ev.Start.DateTime == "" || ev.End.DateTime == "" {
		return record, fmt.Errorf("all-day events carry no working time")
	}
	for _, a := range ev.Attendees {
		if a.Self && a.ResponseStatus == "declined" {
			return record, fmt.Errorf("event was declined")
		}
	}
	var err error
	if record.Start, err = parseInstant(ev.Start.DateTime, n.zone(ev.Start.TimeZone)); err != nil {
		return record, err
	}
	if record.End, err = parseInstant(ev.End.DateTime, n.zone(ev.End.TimeZone)); err != nil {
		return record, err
	}
	record.Metadata = compact(map[string]string{
		"location":  ev.Location,
		"link":      ev.HTMLLink,
		"attendees": joinAttendees(ev.Attendees),
	})
	if ev.Organizer != nil && ev.Organizer.Email != "" {
		record.Metadata["organizer"] = ev.Organizer.Email
	}
	return record, nil
}

func (n *Normalizer) chat(body json.RawMessage) (domain.ActivityRecord, error) {
	var m ChatMeeting
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode chat meeting: %w", err)
	}
	record := domain.ActivityRecord{SourceID: m.ID, Title: strings.TrimSpace(m.Subject), Description: strings.TrimSpace(m.Description)}
	var err error
	loc := n.zone(m.TimeZone)
	if record.Start, err = parseInstant(m.StartDateTime, loc); err != nil {
		return record, err
	}
	if record.End, err = parseInstant(m.EndDateTime, loc); err != nil {
		return record, err
	}
	record.Metadata = compact(map[string]string{
		"participants": strings.Join(m.Participants, ", "),
		"channel":      m.Channel,
		"link":         m.JoinURL,
	})
	return record, nil
}

func (n *Normalizer) commit(body json.RawMessage) (domain.ActivityRecord, error) {
	var c Commit
	if err := json.Unmarshal(body, &c); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode commit: %w", err)
	}
	title, description, _ := strings.Cut(strings.TrimSpace(c.Commit.Message), "\n")
	record := domain.ActivityRecord{SourceID: c.SHA, Title: strings.TrimSpace(title), Description: strings.TrimSpace(description)}
	ts, err := parseInstant(c.Commit.Author.Date, n.loc)
	if err != nil {
		return record, err
	}
	record.Start, record.End = ts, ts
	record.Metadata = compact(map[string]string{
		"repository": c.Repository,
		"url":        c.HTMLURL,
		"author":     c.Commit.Author.Name,
	})
	return record, nil
}

func (n *Normalizer) coding(body json.RawMessage) (domain.ActivityRecord, error) {
	var d CodingDuration
	if err := json.Unmarshal(body, &d); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode coding duration: %w", err)
	}
	if d.Time <= 0 {
		return domain.ActivityRecord{}, fmt.Errorf("coding duration has no start time")
	}
	if d.Duration < 0 || math.IsNaN(d.Duration) {
		return domain.ActivityRecord{}, fmt.Errorf("invalid coding duration %v", d.Duration)
	}
	sec, frac := math.Modf(d.Time)
	start := time.Unix(int64(sec), int64(frac*1e9)).Truncate(time.Second)
	project := strings.TrimSpace(d.Project)
	if project == "" {
		project = "unknown project"
	}
	return domain.ActivityRecord{
		SourceID:    fmt.Sprintf("%s@%d", project, start.Unix()),
		Start:       start,
		End:         start.Add(time.Duration(d.Duration * float64(time.Second))).Truncate(time.Second),
		Title:       "Coding: " + project,
		Description: strings.Join(nonEmpty(d.Language, d.Branch, d.Entity), " · "),
		Metadata: compact(map[string]string{
			"project":  project,
			"language": d.Language,
			"branch":   d.Branch,
		}),
	}, nil
}

// zone resolves an IANA zone name carried by a payload, falling back to the
// normalizer's location.
func (n *Normalizer) zone(name string) *time.Location {
	if name = strings.TrimSpace(name); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return n.loc
}

// parseInstant accepts RFC 3339 and the seven-digit fraction used by
// Microsoft Graph. Timestamps without an offset are read in loc.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.0000000Z07:00"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.0000000", "2006-01-02T15:04:05"} {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not RFC3339", value)
}

func joinAttendees(attendees []CalendarAttendee) string {
	emails := make([]string, 0, len(attendees))
	for _, a := range attendees {
		if a.Email != "" {
			emails = append(emails, a.Email)
		}
	}
	return strings.Join(emails, ", ")
}

func compact(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
