// Package consumer reads draft lifecycle events from Kafka and hands them to
// downstream handlers.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded draft events.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a draft event as framed by the outbox dispatcher: Confluent wire
// header in the value, routing metadata in Kafka headers, draft key as record key.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Key           string
	EventType     string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHandlerRetries retries a failing handler up to attempts more times,
// starting at initial and doubling. Zero attempts disables retrying.
func WithHandlerRetries(attempts int, initial time.Duration) Option {
	return func(p *Processor) {
		if attempts >= 0 {
			p.retries = attempts
		}
		if initial > 0 {
			p.initialBackoff = initial
		}
	}
}

// Processor fetches records, decodes them and commits once the handler accepts.
type Processor struct {
	reader         Reader
	handler        Handler
	logger         *slog.Logger
	retries        int
	initialBackoff time.Duration
}

// NewProcessor wires reader to handler. Handler failures are retried three times by default.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:         reader,
		handler:        handler,
		logger:         slog.Default().With(slog.String("component", "consumer")),
		retries:        3,
		initialBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the reader fails with a context error.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Error("fetch failed", slog.Any("error", err))
			continue
		}
		p.process(ctx, rec)
	}
}

func (p *Processor) process(ctx context.Context, rec kafka.Message) {
	log := p.logger.With(
		slog.String("topic", rec.Topic),
		slog.Int("partition", rec.Partition),
		slog.Int64("offset", rec.Offset),
	)

	msg, err := decodeRecord(rec)
	if err != nil {
		recordRejected(rec.Topic, stageDecode)
		log.Warn("undecodable record skipped", slog.Any("error", err))
		// Poison records are committed so the partition keeps moving.
		p.commit(ctx, log, rec)
		return
	}

	if err := p.handle(ctx, msg); err != nil {
		recordRejected(msg.Topic, stageHandler)
		log.Error("handler gave up; record left uncommitted",
			slog.String("event_type", msg.EventType),
			slog.String("draft_key", msg.Key),
			slog.Any("error", err))
		return
	}
	if p.commit(ctx, log, rec) {
		recordAudited(msg, time.Now())
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	if p.retries == 0 {
		return p.handler.Handle(ctx, msg)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.retries)), ctx)

	return backoff.RetryNotify(func() error {
		return p.handler.Handle(ctx, msg)
	}, bo, func(err error, wait time.Duration) {
		p.logger.Warn("handler failed, retrying",
			slog.String("event_type", msg.EventType),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
}

func (p *Processor) commit(ctx context.Context, log *slog.Logger, rec kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, rec); err != nil {
		log.Error("commit failed", slog.Any("error", err))
		return false
	}
	return true
}

func decodeRecord(rec kafka.Message) (Message, error) {
	if len(rec.Value) < 5 {
		return Message{}, fmt.Errorf("record too short for wire header: %d bytes", len(rec.Value))
	}
	if rec.Value[0] != 0 {
		return Message{}, fmt.Errorf("unknown wire magic byte %d", rec.Value[0])
	}

	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType := headers["event_type"]
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Timestamp:     rec.Time,
		Key:           string(rec.Key),
		EventType:     eventType,
		AggregateID:   headers["aggregate_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(rec.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), rec.Value[5:]...)),
	}, nil
}
