package api

import (
	"time"

	"example.com/worklog/internal/domain"
)

// EntryView exposes one draft entry, including its per-entry errors.
type EntryView struct {
	EntryID             string          `json:"entry_id"`
	BlockID             string          `json:"block_id"`
	Start               time.Time       `json:"start"`
	End                 time.Time       `json:"end"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Sources             []domain.Source `json:"sources"`
	TotalMinutes        int             `json:"total_minutes"`
	Category            string          `json:"category"`
	Confidence          float64         `json:"confidence"`
	Rationale           string          `json:"rationale,omitempty"`
	CategorizationError string          `json:"categorization_error,omitempty"`
	MinutesToLog        int             `json:"minutes_to_log"`
	Edited              bool            `json:"edited"`
	SubmissionStatus    string          `json:"submission_status"`
	SubmissionError     string          `json:"submission_error,omitempty"`
	RemoteEntryID       string          `json:"remote_entry_id,omitempty"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
}

// CategoryTotalView is one row of the per-category summary.
type CategoryTotalView struct {
	Category string `json:"category"`
	Entries  int    `json:"entries"`
	Minutes  int    `json:"minutes"`
	Display  string `json:"display"`
}

// DraftView exposes full details about a draft.
type DraftView struct {
	DraftID                string              `json:"draft_id"`
	Key                    string              `json:"key"`
	RangeStart             time.Time           `json:"range_start"`
	RangeEnd               time.Time           `json:"range_end"`
	RunID                  string              `json:"run_id"`
	State                  string              `json:"state"`
	Version                int64               `json:"version"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
	ApprovedAt             *time.Time          `json:"approved_at,omitempty"`
	ApprovedBy             *string             `json:"approved_by,omitempty"`
	TotalMinutes           int                 `json:"total_minutes"`
	CategorizationFailures int                 `json:"categorization_failures"`
	Totals                 []CategoryTotalView `json:"totals"`
	Entries                []EntryView         `json:"entries,omitempty"`
}

// ListDraftsResponse packages list results. Entries are omitted from list items.
type ListDraftsResponse struct {
	Items      []DraftView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// EditEntryRequest is the payload for PATCH /v1/drafts/{key}/entries/{entryID}.
type EditEntryRequest struct {
	Category        *string `json:"category,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

func (r EditEntryRequest) toInput() domain.EditEntryInput {
	in := domain.EditEntryInput{Category: r.Category}
	if r.DurationMinutes != nil {
		d := time.Duration(*r.DurationMinutes) * time.Minute
		in.DurationToLog = &d
	}
	return in
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}

func toDraftView(d domain.Draft, withEntries bool) DraftView {
	view := DraftView{
		DraftID:                d.ID,
		Key:                    d.Key,
		RangeStart:             d.Range.Start,
		RangeEnd:               d.Range.End,
		RunID:                  d.RunID,
		State:                  d.State.String(),
		Version:                d.Version,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		ApprovedAt:             d.ApprovedAt,
		ApprovedBy:             d.ApprovedBy,
		TotalMinutes:           minutes(d.TotalDuration()),
		CategorizationFailures: d.CategorizationFailures(),
	}
	for _, t := range domain.CategoryTotals(d.Entries) {
		view.Totals = append(view.Totals, CategoryTotalView{
			Category: t.Category,
			Entries:  t.Entries,
			Minutes:  minutes(t.Duration),
			Display:  domain.FormatDuration(t.Duration),
		})
	}
	if !withEntries {
		return view
	}
	view.Entries = make([]EntryView, 0, len(d.Entries))
	for _, e := range d.Entries {
		view.Entries = append(view.Entries, EntryView{
			EntryID:             e.ID,
			BlockID:             e.BlockID,
			Start:               e.Start,
			End:                 e.End,
			Title:               e.Title,
			Description:         e.Description,
			Sources:             e.Sources,
			TotalMinutes:        minutes(e.TotalDuration),
			Category:            e.Category,
			Confidence:          e.Confidence,
			Rationale:           e.Rationale,
			CategorizationError: e.CategorizationError,
			MinutesToLog:        minutes(e.DurationToLog),
			Edited:              e.Edited,
			SubmissionStatus:    e.SubmissionStatus.String(),
			SubmissionError:     e.SubmissionError,
			RemoteEntryID:       e.RemoteEntryID,
			SubmittedAt:         e.SubmittedAt,
		})
	}
	return view
}
