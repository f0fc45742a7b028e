// Package events defines the draft lifecycle payloads published through the
// outbox.
package events

import (
	"time"

	"example.com/worklog/internal/domain"
)

// Event types.
const (
	TypeDraftCreated      = "draft.created"
	TypeDraftStateChanged = "draft.state_changed"
)

// AggregateDraft is the aggregate_type of every draft event.
const AggregateDraft = "draft"

// DraftCreated is emitted when a collection run persists a draft for review.
type DraftCreated struct {
	DraftID                string    `json:"draft_id"`
	DraftKey               string    `json:"draft_key"`
	RunID                  string    `json:"run_id"`
	RangeStart             time.Time `json:"range_start"`
	RangeEnd               time.Time `json:"range_end"`
	EntryCount             int       `json:"entry_count"`
	CategorizationFailures int       `json:"categorization_failures"`
	TotalMinutes           int64     `json:"total_minutes"`
	Version                int64     `json:"version"`
	CreatedAt              time.Time `json:"created_at"`
}

// DraftStateChanged tracks approve, reopen and submission progress.
type DraftStateChanged struct {
	DraftID       string    `json:"draft_id"`
	DraftKey      string    `json:"draft_key"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	Version       int64     `json:"version"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewDraftCreated builds the payload for a freshly persisted draft.
func NewDraftCreated(d domain.Draft) DraftCreated {
	return DraftCreated{
		DraftID:                d.ID,
		DraftKey:               d.Key,
		RunID:                  d.RunID,
		RangeStart:             d.Range.Start,
		RangeEnd:               d.Range.End,
		EntryCount:             len(d.Entries),
		CategorizationFailures: d.CategorizationFailures(),
		TotalMinutes:           int64(d.TotalDuration() / time.Minute),
		Version:                d.Version,
		CreatedAt:              d.CreatedAt,
	}
}

// NewDraftStateChanged builds the payload for a committed transition.
func NewDraftStateChanged(previous domain.DraftState, d domain.Draft) DraftStateChanged {
	ev := DraftStateChanged{
		DraftID:       d.ID,
		DraftKey:      d.Key,
		State:         d.State.String(),
		PreviousState: previous.String(),
		Version:       d.Version,
		OccurredAt:    d.UpdatedAt,
	}
	if d.ApprovedBy != nil {
		ev.ApprovedBy = *d.ApprovedBy
	}
	return ev
}

// Route describes where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Catalog maps event types to their topic and schema subject.
var Catalog = map[string]Route{
	TypeDraftCreated: {
		Topic:         "worklog_draft_events",
		SchemaSubject: "worklog_draft_events-value",
	},
	TypeDraftStateChanged: {
		Topic:         "worklog_draft_state_changed",
		SchemaSubject: "worklog_draft_state_changed-value",
	},
}

// Topics lists every topic in the catalog.
func Topics() []string {
	seen := make(map[string]bool)
	var out []string
	for _, typ := range []string{TypeDraftCreated, TypeDraftStateChanged} {
		if t := Catalog[typ].Topic; !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
