package postgres

import (
	"encoding/json"
	"time"

	"example.com/worklog/internal/domain"
)

// entryRow is the JSONB shape of a draft entry. Durations are whole seconds.
type entryRow struct {
	ID                  string                  `json:"id"`
	BlockID             string                  `json:"block_id"`
	Start               time.Time               `json:"start"`
	End                 time.Time               `json:"end"`
	Title               string                  `json:"title"`
	Description         string                  `json:"description,omitempty"`
	Sources             []domain.Source         `json:"sources"`
	TotalSeconds        int64                   `json:"total_seconds"`
	Category            string                  `json:"category"`
	Confidence          float64                 `json:"confidence"`
	Rationale           string                  `json:"rationale,omitempty"`
	CategorizationError string                  `json:"categorization_error,omitempty"`
	SecondsToLog        int64                   `json:"seconds_to_log"`
	Edited              bool                    `json:"edited"`
	SubmissionStatus    domain.SubmissionStatus `json:"submission_status"`
	SubmissionError     string                  `json:"submission_error,omitempty"`
	RemoteEntryID       string                  `json:"remote_entry_id,omitempty"`
	SubmittedAt         *time.Time              `json:"submitted_at,omitempty"`
}

func marshalEntries(entries []domain.Entry) ([]byte, error) {
	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow{
			ID:                  e.ID,
			BlockID:             e.BlockID,
			Start:               e.Start,
			End:                 e.End,
			Title:               e.Title,
			Description:         e.Description,
			Sources:             e.Sources,
			TotalSeconds:        int64(e.TotalDuration / time.Second),
			Category:            e.Category,
			Confidence:          e.Confidence,
			Rationale:           e.Rationale,
			CategorizationError: e.CategorizationError,
			SecondsToLog:        int64(e.DurationToLog / time.Second),
			Edited:              e.Edited,
			SubmissionStatus:    e.SubmissionStatus,
			SubmissionError:     e.SubmissionError,
			RemoteEntryID:       e.RemoteEntryID,
			SubmittedAt:         e.SubmittedAt,
		})
	}
	return json.Marshal(rows)
}

func unmarshalEntries(data []byte) ([]domain.Entry, error) {
	var rows []entryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	entries := make([]domain.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.Entry{
			ID:                  r.ID,
			BlockID:             r.BlockID,
			Start:               r.Start,
			End:                 r.End,
			Title:               r.Title,
			Description:         r.Description,
			Sources:             r.Sources,
			TotalDuration:       time.Duration(r.TotalSeconds) * time.Second,
			Category:            r.Category,
			Confidence:          r.Confidence,
			Rationale:           r.Rationale,
			CategorizationError: r.CategorizationError,
			DurationToLog:       time.Duration(r.SecondsToLog) * time.Second,
			Edited:              r.Edited,
			SubmissionStatus:    r.SubmissionStatus,
			SubmissionError:     r.SubmissionError,
			RemoteEntryID:       r.RemoteEntryID,
			SubmittedAt:         r.SubmittedAt,
		})
	}
	return entries, nil
}
