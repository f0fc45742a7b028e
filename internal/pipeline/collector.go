// Package pipeline runs one collection pass: fetch, normalize, merge,
// categorize and persist a draft for review. It never approves or submits.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"example.com/worklog/internal/categorize"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/merge"
	"example.com/worklog/internal/normalize"
	"example.com/worklog/internal/notify"
	"example.com/worklog/internal/observability"
	"example.com/worklog/internal/sources"
	"example.com/worklog/internal/taxonomy"
)

var tracer = otel.Tracer("example.com/worklog/internal/pipeline")

// Deps are the collaborators of a Collector.
type Deps struct {
	Adapters    []sources.Adapter
	Normalizer  *normalize.Normalizer
	Merger      *merge.Engine
	Categorizer *categorize.Engine
	Taxonomy    *taxonomy.Taxonomy
	Service     *domain.Service
	Notifier    notify.Notifier
}

// Collector wires the stages together.
type Collector struct {
	deps   Deps
	logger *slog.Logger
}

// Option customises the Collector.
type Option func(*Collector)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector validates deps and constructs a Collector.
func NewCollector(deps Deps, opts ...Option) (*Collector, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Merger == nil:
		return nil, errors.New("pipeline: merge engine is required")
	case deps.Categorizer == nil:
		return nil, errors.New("pipeline: categorization engine is required")
	case deps.Service == nil:
		return nil, errors.New("pipeline: draft service is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	c := &Collector{deps: deps, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunInput selects what to collect.
type RunInput struct {
	Range domain.DateRange
	// Sources limits the run to these sources; empty means every adapter.
	Sources []domain.Source
	Notify  bool
	RunID   string
}

// RunSummary reports what a run did, including every per-item failure.
type RunSummary struct {
	RunID                  string
	Range                  domain.DateRange
	Payloads               int
	Records                int
	Blocks                 int
	SourceErrors           []*domain.SourceFetchError
	NormalizationErrors    []*domain.NormalizationError
	CategorizationFailures int
	Draft                  *domain.Draft
	Categories             []domain.CategoryTotal
	// NoActivity is set when nothing was collected and no draft was created.
	NoActivity  bool
	Notified    bool
	NotifyError error
	Elapsed     time.Duration
}

// Run executes one pass. Per-item failures are recorded on the summary;
// a returned error means no draft was persisted.
func (c *Collector) Run(ctx context.Context, in RunInput) (*RunSummary, error) {
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("range", in.Range.Key()))
	defer span.End()

	started := time.Now()
	summary := &RunSummary{RunID: runID, Range: in.Range}
	logger := c.logger.With(slog.String("run_id", runID), slog.String("range", in.Range.Key()))

	err := c.run(ctx, in, summary, logger)
	summary.Elapsed = time.Since(started)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("collection run failed", slog.Any("error", err))
		return summary, err
	}
	outcome := "draft_created"
	if summary.NoActivity {
		outcome = "no_activity"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	return summary, nil
}

func (c *Collector) run(ctx context.Context, in RunInput, summary *RunSummary, logger *slog.Logger) error {
	adapters := c.deps.Adapters
	if len(in.Sources) > 0 {
		selected, err := sources.Select(adapters, in.Sources)
		if err != nil {
			return err
		}
		adapters = selected
	}

	payloads, fetchErrs := c.fetch(ctx, adapters, in.Range)
	summary.Payloads = len(payloads)
	summary.SourceErrors = fetchErrs
	for _, fe := range fetchErrs {
		logger.Warn("source fetch failed", slog.String("source", string(fe.Source)), slog.Any("error", fe.Err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	records, rejected := c.deps.Normalizer.Normalize(payloads)
	summary.Records = len(records)
	summary.NormalizationErrors = rejected

	mctx, mspan := tracer.Start(ctx, "pipeline.merge")
	blocks, err := c.deps.Merger.Merge(mctx, in.Range, records)
	mspan.End()
	if err != nil {
		return err
	}
	summary.Blocks = len(blocks)
	if len(blocks) == 0 {
		summary.NoActivity = true
		logger.Info("no activity collected; no draft created",
			slog.Int("source_errors", len(fetchErrs)),
			slog.Int("rejected_payloads", len(rejected)),
		)
		return nil
	}

	cctx, cspan := tracer.Start(ctx, "pipeline.categorize")
	entries, err := c.deps.Categorizer.CategorizeAll(cctx, blocks, c.deps.Taxonomy)
	cspan.End()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.CategorizationError != "" {
			summary.CategorizationFailures++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	draft, err := c.deps.Service.CreateDraft(ctx, domain.CreateDraftInput{Range: in.Range, RunID: summary.RunID, Entries: entries})
	if err != nil {
		return fmt.Errorf("persist draft: %w", err)
	}
	observability.RecordDraftPersisted(draft.CreatedAt)
	summary.Draft = draft
	summary.Categories = domain.CategoryTotals(draft.Entries)
	logger.Info("draft persisted for review",
		slog.String("draft_id", draft.ID),
		slog.Int("entries", len(draft.Entries)),
		slog.Int("categorization_failures", summary.CategorizationFailures),
		slog.String("total", domain.FormatDuration(draft.TotalDuration())),
	)

	if in.Notify {
		if err := c.deps.Notifier.Notify(ctx, notify.NewNotification(*draft)); err != nil {
			summary.NotifyError = err
			logger.Warn("notification failed", slog.Any("error", err))
		} else {
			summary.Notified = true
		}
	}
	return nil
}

// fetch runs every adapter concurrently. A failing source never cancels its
// siblings; Wait is the barrier before merging.
func (c *Collector) fetch(ctx context.Context, adapters []sources.Adapter, rng domain.DateRange) ([]normalize.RawPayload, []*domain.SourceFetchError) {
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	results := make([][]normalize.RawPayload, len(adapters))
	errs := make([]*domain.SourceFetchError, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			started := time.Now()
			payloads, err := a.Fetch(ctx, rng)
			fetchDuration.WithLabelValues(string(a.Source())).Observe(time.Since(started).Seconds())
			if err != nil {
				fetchFailures.WithLabelValues(string(a.Source())).Inc()
				errs[i] = &domain.SourceFetchError{Source: a.Source(), Err: err}
				return nil
			}
			results[i] = payloads
			return nil
		})
	}
	_ = g.Wait()

	var payloads []normalize.RawPayload
	var failed []*domain.SourceFetchError
	for i := range adapters {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		payloads = append(payloads, results[i]...)
	}
	return payloads, failed
}
