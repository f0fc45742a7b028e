// Package domain defines the worklog model: activity records, merged blocks,
// categorized entries and the reviewable draft lifecycle.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DraftRepository captures persistence operations for drafts. Update must
// serialize writers per key and commit fn's changes all-or-nothing; when fn
// returns ErrNoChange it must return the current draft without writing.
type DraftRepository interface {
	Create(ctx context.Context, draft Draft) error
	Get(ctx context.Context, key string) (*Draft, error)
	List(ctx context.Context, cursor *Cursor, limit int) ([]Draft, *Cursor, error)
	Update(ctx context.Context, key string, fn func(*Draft) error) (*Draft, error)
}

// Locker grants exclusive access to a draft across processes. Acquire returns
// ErrSubmissionInProgress when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// CategorySet answers taxonomy membership questions.
type CategorySet interface {
	Contains(id string) bool
}

// Cursor models the pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Service orchestrates review workflows over a DraftRepository.
type Service struct {
	repo     DraftRepository
	taxonomy CategorySet
	locker   Locker
	now      func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithTaxonomy validates edited categories against the supplied set.
func WithTaxonomy(t CategorySet) ServiceOption {
	return func(s *Service) { s.taxonomy = t }
}

// WithLocker makes reopen wait for no submission pass to hold the draft.
func WithLocker(l Locker) ServiceOption {
	return func(s *Service) { s.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo DraftRepository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraftInput carries a finished collection run.
type CreateDraftInput struct {
	Range   DateRange
	RunID   string
	Entries []Entry
}

// EditEntryInput carries a human correction; nil fields are left untouched.
type EditEntryInput struct {
	Category      *string
	DurationToLog *time.Duration
}

// CreateDraft persists a new pending_review draft for the range.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (*Draft, error) {
	now := s.now()
	runID := input.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	entries := make([]Entry, len(input.Entries))
	for i, e := range input.Entries {
		if e.SubmissionStatus == 0 {
			e.SubmissionStatus = SubmissionNotSubmitted
		}
		if e.Category == "" {
			e.Category = Uncategorized
		}
		entries[i] = e
	}
	draft := Draft{
		ID:        uuid.NewString(),
		Key:       input.Range.Key(),
		Range:     input.Range,
		RunID:     runID,
		Entries:   entries,
		State:     DraftPendingReview,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, draft); err != nil {
		return nil, persistErr("create draft", err)
	}
	return &draft, nil
}

// GetDraft fetches the latest draft for a key.
func (s *Service) GetDraft(ctx context.Context, key string) (*Draft, error) {
	draft, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, persistErr("get draft", err)
	}
	if draft == nil {
		return nil, ErrDraftNotFound
	}
	return draft, nil
}

// ListDrafts pages through drafts, newest first.
func (s *Service) ListDrafts(ctx context.Context, cursor *Cursor, limit int) ([]Draft, *Cursor, error) {
	drafts, next, err := s.repo.List(ctx, cursor, limit)
	if err != nil {
		return nil, nil, persistErr("list drafts", err)
	}
	return drafts, next, nil
}

// EditEntry applies a category and/or duration correction.
func (s *Service) EditEntry(ctx context.Context, key, entryID string, input EditEntryInput) (*Draft, error) {
	if input.Category != nil {
		category := strings.TrimSpace(*input.Category)
		if category != Uncategorized && s.taxonomy != nil && !s.taxonomy.Contains(category) {
			return nil, fmt.Errorf("%w: %q is not in the taxonomy", ErrInvalidCategory, category)
		}
		input.Category = &category
	}
	draft, err := s.repo.Update(ctx, key, func(d *Draft) error {
		return d.EditEntry(entryID, input.Category, input.DurationToLog, s.now())
	})
	if err != nil {
		return nil, persistErr("edit entry", err)
	}
	return draft, nil
}

// Approve records the human approval. It is the only transition into the
// approved state and must only be reachable from the review surface.
func (s *Service) Approve(ctx context.Context, key, approver string) (*Draft, error) {
	draft, err := s.repo.Update(ctx, key, func(d *Draft) error {
		return d.Approve(approver, s.now())
	})
	if err != nil {
		return nil, persistErr("approve draft", err)
	}
	return draft, nil
}

// Reopen returns an approved draft to review.
func (s *Service) Reopen(ctx context.Context, key string) (*Draft, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	draft, err := s.repo.Update(ctx, key, func(d *Draft) error {
		return d.Reopen(s.now())
	})
	if err != nil {
		return nil, persistErr("reopen draft", err)
	}
	return draft, nil
}

var domainErrors = []error{
	ErrDraftExists, ErrDraftNotFound, ErrEntryNotFound, ErrInvalidTransition,
	ErrInvalidCategory, ErrInvalidDuration, ErrApproverRequired, ErrSubmissionInProgress,
	context.Canceled, context.DeadlineExceeded,
}

// persistErr leaves domain errors untouched and wraps store failures.
func persistErr(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	var violation *ApprovalViolationError
	if errors.As(err, &violation) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
