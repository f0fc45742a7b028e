package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the system an activity record was observed in.
type Source string

const (
	SourceCalendar Source = "calendar"
	SourceChat     Source = "chat"
	SourceCommit   Source = "commit"
	SourceCoding   Source = "coding"
)

// AllSources lists every known source in default priority order.
var AllSources = []Source{SourceCalendar, SourceChat, SourceCommit, SourceCoding}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceCalendar, SourceChat, SourceCommit, SourceCoding:
		return true
	}
	return false
}

// ParseSource maps a textual source name onto a Source. "meeting" and
// "coding-session" are accepted as aliases.
func ParseSource(value string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "calendar":
		return SourceCalendar, nil
	case "chat", "meeting", "chat-meeting", "teams":
		return SourceChat, nil
	case "commit", "github":
		return SourceCommit, nil
	case "coding", "coding-session", "wakatime":
		return SourceCoding, nil
	}
	return "", fmt.Errorf("unknown source %q", value)
}

// ActivityRecord is one atomic observation from one source. Records are
// treated as immutable values once the normalizer has produced them.
type ActivityRecord struct {
	Source      Source
	SourceID    string
	Start       time.Time
	End         time.Time
	Title       string
	Description string
	Metadata    map[string]string
}

// Duration returns the record span.
func (r ActivityRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// IsPoint reports whether the record is a zero-length event such as a commit.
func (r ActivityRecord) IsPoint() bool {
	return r.End.Equal(r.Start)
}

// Validate checks the structural invariants shared by every source.
func (r ActivityRecord) Validate() error {
	switch {
	case !r.Source.Valid():
		return fmt.Errorf("unknown source %q", r.Source)
	case strings.TrimSpace(r.SourceID) == "":
		return fmt.Errorf("source identifier is required")
	case r.Start.IsZero():
		return fmt.Errorf("start time is required")
	case r.End.Before(r.Start):
		return fmt.Errorf("end %s precedes start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

const dateLayout = "2006-01-02"

// DateRange is a closed range of calendar days expressed as the half-open
// instant interval [Start, End) in a specific location.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds the range covering the days first through last inclusive.
func NewDateRange(first, last time.Time, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	end := time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, loc)
	if !end.After(start) {
		return DateRange{}, fmt.Errorf("date range end %s precedes start %s", last.Format(dateLayout), first.Format(dateLayout))
	}
	return DateRange{Start: start, End: end}, nil
}

// ParseDateRange accepts "YYYY-MM-DD" or "YYYY-MM-DD:YYYY-MM-DD".
func ParseDateRange(value string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	firstRaw, lastRaw, isRange := strings.Cut(value, ":")
	first, err := time.ParseInLocation(dateLayout, strings.TrimSpace(firstRaw), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", firstRaw)
	}
	last := first
	if isRange {
		last, err = time.ParseInLocation(dateLayout, strings.TrimSpace(lastRaw), loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", lastRaw)
		}
	}
	return NewDateRange(first, last, loc)
}

// LastDay returns midnight of the final day inside the range.
func (r DateRange) LastDay() time.Time {
	return r.End.AddDate(0, 0, -1)
}

// Days returns the number of calendar days in the range.
func (r DateRange) Days() int {
	days := 0
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// Key is the store key for the range, e.g. "2025-05-01" or "2025-05-01:2025-05-03".
func (r DateRange) Key() string {
	first := r.Start.Format(dateLayout)
	last := r.LastDay().Format(dateLayout)
	if first == last {
		return first
	}
	return first + ":" + last
}

func (r DateRange) String() string {
	return r.Key()
}

// Excludes reports whether the span [start, end) lies entirely outside the
// range. A point (start == end) is inside when it falls in [Start, End).
func (r DateRange) Excludes(start, end time.Time) bool {
	if !start.Before(r.End) {
		return true
	}
	if start.Equal(end) {
		return start.Before(r.Start)
	}
	return !end.After(r.Start)
}
