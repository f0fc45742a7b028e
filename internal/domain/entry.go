package domain

import (
	"fmt"
	"sort"
	"time"
)

// Uncategorized is the sentinel category for entries the classifier could not
// place in the taxonomy.
const Uncategorized = "uncategorized"

// SubmissionStatus tracks the ticketing outcome of a single entry.
type SubmissionStatus uint8

const (
	SubmissionNotSubmitted SubmissionStatus = iota + 1
	SubmissionSubmitted
	SubmissionFailed
	// SubmissionSkipped marks entries that are never logged, such as
	// uncategorized time or durations below the ticketing minimum.
	SubmissionSkipped
)

var submissionStatusNames = map[SubmissionStatus]string{
	SubmissionNotSubmitted: "not_submitted",
	SubmissionSubmitted:    "submitted",
	SubmissionFailed:       "failed",
	SubmissionSkipped:      "skipped",
}

func (s SubmissionStatus) String() string {
	if name, ok := submissionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("submission_status(%d)", uint8(s))
}

// Terminal reports whether no further submission attempt is needed.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionSubmitted || s == SubmissionSkipped
}

// ParseSubmissionStatus is the inverse of String.
func ParseSubmissionStatus(value string) (SubmissionStatus, error) {
	for status, name := range submissionStatusNames {
		if name == value {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown submission status %q", value)
}

func (s SubmissionStatus) MarshalText() ([]byte, error) {
	if _, ok := submissionStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid submission status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *SubmissionStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSubmissionStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Entry is a block annotated with its classification and the human-editable
// fields used at submission time.
type Entry struct {
	ID            string
	BlockID       string
	Start         time.Time
	End           time.Time
	Title         string
	Description   string
	Sources       []Source
	TotalDuration time.Duration

	Category            string
	Confidence          float64
	Rationale           string
	CategorizationError string

	DurationToLog time.Duration
	Edited        bool

	SubmissionStatus SubmissionStatus
	SubmissionError  string
	RemoteEntryID    string
	SubmittedAt      *time.Time
}

// NewEntry snapshots the block summary into an entry that has not been
// classified yet.
func NewEntry(b Block) Entry {
	return Entry{
		ID:               b.ID,
		BlockID:          b.ID,
		Start:            b.Start,
		End:              b.End,
		Title:            b.Title,
		Description:      b.Description,
		Sources:          b.Sources(),
		TotalDuration:    b.TotalDuration,
		Category:         Uncategorized,
		DurationToLog:    b.TotalDuration,
		SubmissionStatus: SubmissionNotSubmitted,
	}
}

// IsUncategorized reports whether the entry carries the sentinel category.
func (e Entry) IsUncategorized() bool {
	return e.Category == "" || e.Category == Uncategorized
}

// CategoryTotal aggregates logged time per category.
type CategoryTotal struct {
	Category string
	Duration time.Duration
	Entries  int
}

// CategoryTotals sums DurationToLog per category, largest first.
func CategoryTotals(entries []Entry) []CategoryTotal {
	index := make(map[string]int)
	var totals []CategoryTotal
	for _, e := range entries {
		cat := e.Category
		if cat == "" {
			cat = Uncategorized
		}
		i, ok := index[cat]
		if !ok {
			i = len(totals)
			index[cat] = i
			totals = append(totals, CategoryTotal{Category: cat})
		}
		totals[i].Duration += e.DurationToLog
		totals[i].Entries++
	}
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Duration == totals[j].Duration {
			return totals[i].Category < totals[j].Category
		}
		return totals[i].Duration > totals[j].Duration
	})
	return totals
}

// FormatDuration renders a duration as "1h 5m", "45m" or "0m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	minutes := int(d.Round(time.Minute) / time.Minute)
	hours, minutes := minutes/60, minutes%60
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
