// Package submission writes approved drafts to the ticketing system exactly
// once per entry.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/lock"
	"example.com/worklog/internal/observability"
)

var tracer = otel.Tracer("example.com/worklog/internal/submission")

// Archiver stores a snapshot of a fully submitted draft.
type Archiver interface {
	Archive(ctx context.Context, draft domain.Draft) error
}

// Engine runs submission passes over approved drafts.
type Engine struct {
	repo        domain.DraftRepository
	ledger      domain.Ledger
	ticketing   Ticketing
	locker      domain.Locker
	archiver    Archiver
	minDuration time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option customises the Engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLocker replaces the in-process lock, e.g. with a Redis lock shared by
// several API replicas.
func WithLocker(l domain.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithArchiver stores a snapshot once a draft is fully submitted.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithMinDuration sets the shortest duration worth logging.
func WithMinDuration(d time.Duration) Option {
	return func(e *Engine) { e.minDuration = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an Engine.
func NewEngine(repo domain.DraftRepository, ledger domain.Ledger, ticketing Ticketing, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		ledger:      ledger,
		ticketing:   ticketing,
		locker:      lock.NewLocal(),
		minDuration: time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntryResult is the outcome of one entry within a pass.
type EntryResult struct {
	EntryID       string                  `json:"entry_id"`
	Category      string                  `json:"category"`
	Status        domain.SubmissionStatus `json:"status"`
	RemoteEntryID string                  `json:"remote_entry_id,omitempty"`
	AlreadyLogged bool                    `json:"already_logged,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Retriable     bool                    `json:"retriable,omitempty"`
}

// Report summarises a pass. Failures are listed per entry, never folded into
// an aggregate success.
type Report struct {
	DraftKey  string            `json:"draft_key"`
	State     domain.DraftState `json:"state"`
	Submitted int               `json:"submitted"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Entries   []EntryResult     `json:"entries"`
}

func (r *Report) add(res EntryResult) {
	switch res.Status {
	case domain.SubmissionSubmitted:
		r.Submitted++
	case domain.SubmissionFailed:
		r.Failed++
	case domain.SubmissionSkipped:
		r.Skipped++
	}
	r.Entries = append(r.Entries, res)
}

// Submit runs one pass over the draft stored under key. Entries already
// submitted or skipped are left alone, so the call is safe to repeat.
func (e *Engine) Submit(ctx context.Context, key string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "submission.Submit")
	span.SetAttributes(attribute.String("draft.key", key))
	defer span.End()
	started := time.Now()
	defer func() { passDuration.Observe(time.Since(started).Seconds()) }()

	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	draft, err := e.repo.Get(ctx, key)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load draft", Err: err}
	}
	if draft == nil {
		return nil, domain.ErrDraftNotFound
	}

	report := &Report{DraftKey: key, State: draft.State}
	if draft.State == domain.DraftSubmitted {
		return report, nil
	}
	if err := draft.CheckSubmittable(); err != nil {
		approvalViolations.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "approval violation")
		e.logger.Error("refused to submit unapproved draft",
			slog.String("draft_key", key),
			slog.String("state", draft.State.String()),
		)
		return nil, err
	}

	for _, entry := range draft.Entries {
		if entry.SubmissionStatus.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.State = draft.State
			return report, err
		}
		res, err := e.submitEntry(ctx, *draft, entry)
		if err != nil {
			report.State = draft.State
			span.RecordError(err)
			return report, err
		}
		updated, err := e.record(ctx, key, entry.ID, res)
		if err != nil {
			report.State = draft.State
			span.RecordError(err)
			return report, err
		}
		draft = updated
		report.add(res)
		entriesTotal.WithLabelValues(outcomeLabel(res)).Inc()
	}

	if len(draft.Entries) == 0 {
		settled, err := e.repo.Update(context.WithoutCancel(ctx), key, func(d *domain.Draft) error { return d.Settle(e.now()) })
		if err != nil {
			return report, &domain.PersistenceError{Op: "settle draft", Err: err}
		}
		draft = settled
	}

	report.State = draft.State
	span.SetAttributes(
		attribute.Int("entries.submitted", report.Submitted),
		attribute.Int("entries.failed", report.Failed),
		attribute.Int("entries.skipped", report.Skipped),
	)
	e.logger.Info("submission pass finished",
		slog.String("draft_key", key),
		slog.String("state", report.State.String()),
		slog.Int("submitted", report.Submitted),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)

	if draft.State == domain.DraftSubmitted {
		observability.RecordDraftSubmitted(draft.UpdatedAt)
		if e.archiver != nil {
			if err := e.archiver.Archive(context.WithoutCancel(ctx), *draft); err != nil {
				e.logger.Warn("failed to archive submitted draft", slog.String("draft_key", key), slog.Any("error", err))
			}
		}
	}
	return report, nil
}

// submitEntry decides and performs the remote write for one entry. A returned
// error aborts the pass; per-entry failures are reported in the result.
func (e *Engine) submitEntry(ctx context.Context, draft domain.Draft, entry domain.Entry) (EntryResult, error) {
	res := EntryResult{EntryID: entry.ID, Category: entry.Category}

	if entry.IsUncategorized() {
		res.Status = domain.SubmissionSkipped
		res.Error = "uncategorized entries are not logged"
		return res, nil
	}
	if entry.DurationToLog < e.minDuration {
		res.Status = domain.SubmissionSkipped
		res.Error = fmt.Sprintf("duration %s is below the %s minimum", domain.FormatDuration(entry.DurationToLog), domain.FormatDuration(e.minDuration))
		return res, nil
	}

	key := domain.IdempotenceKey(entry.BlockID, entry.Category, entry.DurationToLog)
	reservation, err := e.ledger.Reserve(ctx, key, domain.LedgerRef{DraftID: draft.ID, EntryID: entry.ID})
	if err != nil {
		return res, &domain.PersistenceError{Op: "reserve idempotence key", Err: err}
	}

	switch reservation.State {
	case domain.ReservationCompleted:
		ledgerHits.Inc()
		res.Status = domain.SubmissionSubmitted
		res.RemoteEntryID = reservation.RemoteEntryID
		res.AlreadyLogged = true
		return res, nil
	case domain.ReservationPending:
		done, err := e.reconcile(ctx, key, entry, &res)
		if err != nil || done {
			return res, err
		}
	}

	remoteID, err := e.ticketing.LogWork(ctx, workLog(key, entry))
	if err != nil {
		retriable, definitive := classify(err)
		if definitive {
			if relErr := e.ledger.Release(context.WithoutCancel(ctx), key); relErr != nil {
				e.logger.Warn("failed to release idempotence key", slog.String("key", key), slog.Any("error", relErr))
			}
		}
		subErr := &domain.SubmissionError{EntryID: entry.ID, Retriable: retriable, Err: err}
		e.logger.Warn("entry submission failed",
			slog.String("draft_key", draft.Key),
			slog.String("entry_id", entry.ID),
			slog.Bool("retriable", retriable),
			slog.Any("error", err),
		)
		res.Status = domain.SubmissionFailed
		res.Error = subErr.Error()
		res.Retriable = retriable
		return res, nil
	}

	if err := e.ledger.Complete(context.WithoutCancel(ctx), key, remoteID); err != nil {
		e.logger.Error("remote write succeeded but ledger completion failed; the key stays pending for reconciliation",
			slog.String("key", key),
			slog.String("remote_entry_id", remoteID),
			slog.Any("error", err),
		)
	}
	res.Status = domain.SubmissionSubmitted
	res.RemoteEntryID = remoteID
	return res, nil
}

// reconcile resolves a reservation left pending by an interrupted attempt.
// It returns done when res already holds the final outcome.
func (e *Engine) reconcile(ctx context.Context, key string, entry domain.Entry, res *EntryResult) (bool, error) {
	finder, ok := e.ticketing.(WorkLogFinder)
	if !ok {
		res.Status = domain.SubmissionFailed
		res.Error = fmt.Sprintf("an earlier attempt for idempotence key %s has an unknown outcome; verify it in the ticketing system", key)
		return true, nil
	}
	remoteID, found, err := finder.FindWorkLog(ctx, entry.Category, key)
	if err != nil {
		res.Status = domain.SubmissionFailed
		res.Retriable = true
		res.Error = (&domain.SubmissionError{EntryID: entry.ID, Retriable: true, Err: fmt.Errorf("reconcile earlier attempt: %w", err)}).Error()
		return true, nil
	}
	if !found {
		return false, nil
	}
	reconciledTotal.Inc()
	if err := e.ledger.Complete(context.WithoutCancel(ctx), key, remoteID); err != nil {
		return true, &domain.PersistenceError{Op: "complete idempotence key", Err: err}
	}
	res.Status = domain.SubmissionSubmitted
	res.RemoteEntryID = remoteID
	res.AlreadyLogged = true
	return true, nil
}

func (e *Engine) record(ctx context.Context, key, entryID string, res EntryResult) (*domain.Draft, error) {
	outcome := domain.SubmissionOutcome{Status: res.Status, RemoteEntryID: res.RemoteEntryID, Reason: res.Error}
	draft, err := e.repo.Update(context.WithoutCancel(ctx), key, func(d *domain.Draft) error {
		return d.RecordOutcome(entryID, outcome, e.now())
	})
	if err != nil {
		var violation *domain.ApprovalViolationError
		if errors.As(err, &violation) {
			approvalViolations.Inc()
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "record submission outcome", Err: err}
	}
	return draft, nil
}

func workLog(key string, entry domain.Entry) WorkLog {
	description := strings.TrimSpace(entry.Title)
	if entry.Description != "" {
		description = strings.TrimSpace(description + "\n" + entry.Description)
	}
	return WorkLog{
		IdempotenceKey: key,
		Target:         entry.Category,
		Duration:       entry.DurationToLog,
		Started:        entry.Start,
		Date:           entry.Start.Format("2006-01-02"),
		Description:    description,
	}
}

func outcomeLabel(res EntryResult) string {
	if res.AlreadyLogged {
		return "already_logged"
	}
	return res.Status.String()
}
