package domain

import (
	"fmt"
	"strings"
	"time"
)

// DraftState is the review lifecycle of a draft. The zero value is invalid.
type DraftState uint8

const (
	DraftPendingReview DraftState = iota + 1
	DraftApproved
	DraftPartiallySubmitted
	DraftSubmitted
)

var draftStateNames = map[DraftState]string{
	DraftPendingReview:      "pending_review",
	DraftApproved:           "approved",
	DraftPartiallySubmitted: "partially_submitted",
	DraftSubmitted:          "submitted",
}

func (s DraftState) String() string {
	if name, ok := draftStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("draft_state(%d)", uint8(s))
}

// Terminal reports whether the draft accepts no further transitions.
func (s DraftState) Terminal() bool {
	return s == DraftSubmitted
}

// ParseDraftState is the inverse of String.
func ParseDraftState(value string) (DraftState, error) {
	for state, name := range draftStateNames {
		if name == value {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown draft state %q", value)
}

func (s DraftState) MarshalText() ([]byte, error) {
	if _, ok := draftStateNames[s]; !ok {
		return nil, fmt.Errorf("invalid draft state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *DraftState) UnmarshalText(text []byte) error {
	parsed, err := ParseDraftState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Draft is the reviewable batch of categorized entries for one date range.
type Draft struct {
	ID         string
	Key        string
	Range      DateRange
	RunID      string
	Entries    []Entry
	State      DraftState
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ApprovedAt *time.Time
	ApprovedBy *string
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (d Draft) Clone() Draft {
	out := d
	out.Entries = make([]Entry, len(d.Entries))
	for i, e := range d.Entries {
		e.Sources = append([]Source(nil), e.Sources...)
		if e.SubmittedAt != nil {
			at := *e.SubmittedAt
			e.SubmittedAt = &at
		}
		out.Entries[i] = e
	}
	if d.ApprovedAt != nil {
		at := *d.ApprovedAt
		out.ApprovedAt = &at
	}
	if d.ApprovedBy != nil {
		by := *d.ApprovedBy
		out.ApprovedBy = &by
	}
	return out
}

// Entry returns a pointer into Entries for the given id.
func (d *Draft) Entry(entryID string) (*Entry, error) {
	for i := range d.Entries {
		if d.Entries[i].ID == entryID {
			return &d.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
}

// CategorizationFailures counts entries whose classification failed.
func (d Draft) CategorizationFailures() int {
	n := 0
	for _, e := range d.Entries {
		if e.CategorizationError != "" {
			n++
		}
	}
	return n
}

// TotalDuration sums DurationToLog across entries.
func (d Draft) TotalDuration() time.Duration {
	var total time.Duration
	for _, e := range d.Entries {
		total += e.DurationToLog
	}
	return total
}

// EditEntry applies a human correction. Only drafts awaiting review accept edits.
func (d *Draft) EditEntry(entryID string, category *string, duration *time.Duration, now time.Time) error {
	if d.State != DraftPendingReview {
		return fmt.Errorf("%w: cannot edit a %s draft, reopen it first", ErrInvalidTransition, d.State)
	}
	entry, err := d.Entry(entryID)
	if err != nil {
		return err
	}
	if category != nil {
		value := strings.TrimSpace(*category)
		if value == "" {
			return fmt.Errorf("%w: category must not be empty", ErrInvalidCategory)
		}
		entry.Category = value
	}
	if duration != nil {
		if *duration < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, *duration)
		}
		entry.DurationToLog = *duration
	}
	entry.Edited = true
	d.UpdatedAt = now
	return nil
}

// Approve stamps the draft as approved. Approving an approved draft returns
// ErrNoChange so duplicate clicks are harmless.
func (d *Draft) Approve(approver string, now time.Time) error {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return ErrApproverRequired
	}
	switch d.State {
	case DraftApproved:
		return ErrNoChange
	case DraftPendingReview:
	default:
		return fmt.Errorf("%w: cannot approve a %s draft", ErrInvalidTransition, d.State)
	}
	at := now
	d.State = DraftApproved
	d.ApprovedAt = &at
	d.ApprovedBy = &approver
	d.UpdatedAt = now
	return nil
}

// Reopen returns an approved draft to review. Skipped and failed submission
// outcomes are reset so the next approval starts clean.
func (d *Draft) Reopen(now time.Time) error {
	if d.State != DraftApproved {
		return fmt.Errorf("%w: cannot reopen a %s draft", ErrInvalidTransition, d.State)
	}
	for _, e := range d.Entries {
		if e.SubmissionStatus == SubmissionSubmitted {
			return fmt.Errorf("%w: entry %s is already submitted", ErrInvalidTransition, e.ID)
		}
	}
	for i := range d.Entries {
		d.Entries[i].SubmissionStatus = SubmissionNotSubmitted
		d.Entries[i].SubmissionError = ""
	}
	d.State = DraftPendingReview
	d.ApprovedAt = nil
	d.ApprovedBy = nil
	d.UpdatedAt = now
	return nil
}

// CheckSubmittable is the approval gate every submission path must pass.
func (d Draft) CheckSubmittable() error {
	switch d.State {
	case DraftApproved, DraftPartiallySubmitted:
	default:
		return &ApprovalViolationError{Key: d.Key, State: d.State}
	}
	if d.ApprovedAt == nil || d.ApprovedBy == nil || *d.ApprovedBy == "" {
		return &ApprovalViolationError{Key: d.Key, State: d.State}
	}
	return nil
}

// SubmissionOutcome is the result of one submission attempt for one entry.
type SubmissionOutcome struct {
	Status        SubmissionStatus
	RemoteEntryID string
	Reason        string
}

// RecordOutcome stores a submission outcome and advances the draft state.
func (d *Draft) RecordOutcome(entryID string, outcome SubmissionOutcome, now time.Time) error {
	if err := d.CheckSubmittable(); err != nil {
		return err
	}
	entry, err := d.Entry(entryID)
	if err != nil {
		return err
	}
	if entry.SubmissionStatus == SubmissionSubmitted {
		return fmt.Errorf("%w: entry %s is already submitted", ErrInvalidTransition, entryID)
	}
	switch outcome.Status {
	case SubmissionSubmitted:
		at := now
		entry.RemoteEntryID = outcome.RemoteEntryID
		entry.SubmittedAt = &at
		entry.SubmissionError = ""
	case SubmissionFailed, SubmissionSkipped:
		entry.SubmissionError = outcome.Reason
	default:
		return fmt.Errorf("%w: cannot record %s outcome", ErrInvalidTransition, outcome.Status)
	}
	entry.SubmissionStatus = outcome.Status
	d.advance()
	d.UpdatedAt = now
	return nil
}

func (d *Draft) advance() {
	done, submitted := 0, 0
	for _, e := range d.Entries {
		if e.SubmissionStatus.Terminal() {
			done++
		}
		if e.SubmissionStatus == SubmissionSubmitted {
			submitted++
		}
	}
	switch {
	case done == len(d.Entries):
		d.State = DraftSubmitted
	case submitted > 0:
		d.State = DraftPartiallySubmitted
	}
}

// Settle moves an approved draft whose entries are all terminal to submitted.
// It covers drafts with no entries at all.
func (d *Draft) Settle(now time.Time) error {
	if err := d.CheckSubmittable(); err != nil {
		return err
	}
	before := d.State
	d.advance()
	if d.State == before {
		return ErrNoChange
	}
	d.UpdatedAt = now
	return nil
}
