package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDraftExists is returned when a non-terminal draft already covers the range.
	ErrDraftExists = errors.New("an open draft already exists for this date range")
	// ErrDraftNotFound is returned when no draft exists for a key.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrEntryNotFound is returned when an entry id is not part of the draft.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrInvalidTransition is returned for operations the draft state forbids.
	ErrInvalidTransition = errors.New("invalid draft transition")
	// ErrInvalidCategory is returned when a category is not in the taxonomy.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidDuration is returned for negative durations.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrApproverRequired is returned when approve is called without an identity.
	ErrApproverRequired = errors.New("approver is required")
	// ErrSubmissionInProgress is returned while another submission pass holds the draft.
	ErrSubmissionInProgress = errors.New("submission already in progress for draft")
	// ErrNoChange lets an update callback finish without writing anything.
	ErrNoChange = errors.New("no change")
)

// SourceFetchError wraps a failure of one source adapter. Other sources proceed.
type SourceFetchError struct {
	Source Source
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s activity: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// NormalizationError rejects a single raw payload.
type NormalizationError struct {
	Source   Source
	SourceID string
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("normalize %s payload: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("normalize %s payload %s: %s", e.Source, e.SourceID, e.Reason)
}

// MergeInvariantError aborts a run: an adapter handed the merge engine a
// record that violates its input contract.
type MergeInvariantError struct {
	Source   Source
	SourceID string
	Reason   string
}

func (e *MergeInvariantError) Error() string {
	return fmt.Sprintf("merge invariant violated by %s record %s: %s", e.Source, e.SourceID, e.Reason)
}

// CategorizationError describes a classification failure for one block.
type CategorizationError struct {
	BlockID   string
	Transient bool
	Err       error
}

func (e *CategorizationError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("categorize block %s (%s): %v", e.BlockID, kind, e.Err)
}

func (e *CategorizationError) Unwrap() error { return e.Err }

// ApprovalViolationError is raised when anything attempts to submit a draft
// that has not been approved by a human.
type ApprovalViolationError struct {
	Key   string
	State DraftState
}

func (e *ApprovalViolationError) Error() string {
	return fmt.Sprintf("approval violation: draft %s is %s and has not been approved for submission", e.Key, e.State)
}

// SubmissionError is a per-entry ticketing failure.
type SubmissionError struct {
	EntryID   string
	Retriable bool
	Err       error
}

func (e *SubmissionError) Error() string {
	kind := "terminal"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("submit entry %s (%s): %v", e.EntryID, kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. The operation wrote nothing.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
