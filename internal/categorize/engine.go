// Package categorize assigns each merged block a taxonomy category through an
// external reasoning service.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/taxonomy"
)

// Config bounds how hard the engine leans on the reasoning service.
type Config struct {
	Concurrency    int
	RatePerSecond  float64
	Burst          int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns four workers, two requests per second and five retries.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		RatePerSecond:  2,
		Burst:          2,
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Engine classifies blocks with bounded concurrency.
type Engine struct {
	reasoner Reasoner
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
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

// NewEngine constructs an Engine. Zero config fields fall back to defaults;
// a non-positive rate disables limiting.
func NewEngine(reasoner Reasoner, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	e := &Engine{reasoner: reasoner, cfg: cfg, limiter: limiter, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CategorizeAll classifies every block. A block that cannot be classified
// becomes an uncategorized entry carrying the error; its siblings are not
// affected. Only cancellation of ctx fails the call. Output order matches
// block order.
func (e *Engine) CategorizeAll(ctx context.Context, blocks []domain.Block, tax *taxonomy.Taxonomy) ([]domain.Entry, error) {
	entries := make([]domain.Entry, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, b := range blocks {
		g.Go(func() error {
			entry, err := e.Categorize(gctx, b, tax)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("block left uncategorized",
					slog.String("block_id", b.ID),
					slog.String("title", b.Title),
					slog.Any("error", err),
				)
				entry = failedEntry(b, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Categorize classifies one block or returns a *domain.CategorizationError.
func (e *Engine) Categorize(ctx context.Context, b domain.Block, tax *taxonomy.Taxonomy) (domain.Entry, error) {
	req := NewRequest(b, tax)
	started := time.Now()

	resp, err := e.attempt(ctx, req, tax)
	if errors.Is(err, ErrMalformedResponse) {
		retriesTotal.WithLabelValues("strict").Inc()
		e.logger.Debug("retrying block with strict prompt", slog.String("block_id", b.ID), slog.Any("error", err))
		req.Strict = true
		resp, err = e.attempt(ctx, req, tax)
	}
	classifyLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Entry{}, ctxErr
		}
		requestsTotal.WithLabelValues("failed").Inc()
		return domain.Entry{}, &domain.CategorizationError{BlockID: b.ID, Transient: IsTransient(err), Err: err}
	}

	requestsTotal.WithLabelValues("classified").Inc()
	entry := domain.NewEntry(b)
	entry.Category = resp.Category
	entry.Confidence = resp.Confidence
	entry.Rationale = strings.TrimSpace(resp.Rationale)
	return entry, nil
}

func (e *Engine) attempt(ctx context.Context, req Request, tax *taxonomy.Taxonomy) (Response, error) {
	resp, err := e.classify(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp.Category = strings.TrimSpace(resp.Category)
	if err := validate(resp, tax); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (e *Engine) classify(ctx context.Context, req Request) (Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialBackoff
	policy.MaxInterval = e.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	op := func() (Response, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return Response{}, backoff.Permanent(err)
		}
		resp, err := e.reasoner.Classify(ctx, req)
		if err != nil && !IsTransient(err) {
			return Response{}, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		retriesTotal.WithLabelValues("transient").Inc()
		e.logger.Debug("reasoning service call failed, backing off",
			slog.String("block_id", req.BlockID),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries)), ctx)
	return backoff.RetryNotifyWithData(op, bo, notify)
}

func validate(resp Response, tax *taxonomy.Taxonomy) error {
	if resp.Category != domain.Uncategorized && !tax.Contains(resp.Category) {
		return fmt.Errorf("%w: category %q is not in the taxonomy", ErrMalformedResponse, resp.Category)
	}
	if math.IsNaN(resp.Confidence) || resp.Confidence < 0 || resp.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v is outside [0,1]", ErrMalformedResponse, resp.Confidence)
	}
	return nil
}

// NewRequest builds the classification request for a block.
func NewRequest(b domain.Block, tax *taxonomy.Taxonomy) Request {
	sources := make([]string, 0, len(b.Members))
	for _, s := range b.Sources() {
		sources = append(sources, string(s))
	}
	return Request{
		BlockID:     b.ID,
		Title:       b.Title,
		Description: b.Description,
		Start:       b.Start,
		End:         b.End,
		Duration:    b.TotalDuration,
		Sources:     sources,
		Metadata:    b.Metadata(),
		Taxonomy:    tax.Categories(),
	}
}

func failedEntry(b domain.Block, err error) domain.Entry {
	entry := domain.NewEntry(b)
	entry.Category = domain.Uncategorized
	entry.Confidence = 0
	entry.Rationale = err.Error()
	entry.CategorizationError = err.Error()
	return entry
}
