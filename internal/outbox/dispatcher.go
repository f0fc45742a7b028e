// Package outbox delivers draft lifecycle events written alongside draft
// mutations to Kafka.
package outbox

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

// claimLease is how long a claimed but unsettled event is hidden from other
// dispatchers.
const claimLease = time.Minute

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSchemaRegistry registers event schemas and stamps their ids into the
// wire frame. Without a registry the frame carries schema id 0.
func WithSchemaRegistry(registry schemaRegistrar) Option {
	return func(d *Dispatcher) { d.registry = registry }
}

// Message is a claimed outbox row. Field order matches the claim query.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher drains the outbox table and delivers events to Kafka. Events that
// cannot be published are parked in outbox_dlq for the DLQ manager.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	schemaIDs    sync.Map
	logger       *slog.Logger
	done         chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled. A full batch is followed immediately by
// another poll. Run it in its own goroutine and pair it with Wait.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := d.dispatchOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatch failed", slog.Any("error", err))
		}
		wait := d.pollInterval
		if err == nil && n == d.batchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// dispatchOnce claims one batch, publishes it and settles the outcome. It
// returns the number of events claimed.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	start := time.Now()

	claimed, err := d.claim(ctx)
	if err != nil || len(claimed) == 0 {
		return 0, err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	delivered, failures := d.deliver(ctx, claimed)
	countByTopic(deliveredCounter, delivered)
	if len(failures) > 0 {
		parked := failedMessages(failures)
		countByTopic(failedCounter, parked)
		countByTopic(dlqCounter, parked)
		d.logger.Warn("outbox events parked in dlq",
			slog.Int("claimed", len(claimed)),
			slog.Int("failed", len(failures)),
			slog.String("first_reason", failures[0].reason))
	}

	// Published events must be marked even when shutdown interrupts the batch.
	if err := settle(context.WithoutCancel(ctx), d.pool, claimed, failures); err != nil {
		return 0, err
	}
	return len(claimed), nil
}

func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	const query = `WITH next AS (
            SELECT event_id FROM outbox
             WHERE published_at IS NULL
               AND (claimed_at IS NULL OR claimed_at < NOW() - $2::interval)
             ORDER BY event_id
             LIMIT $1
             FOR UPDATE SKIP LOCKED)
        UPDATE outbox o SET claimed_at = NOW()
          FROM next
         WHERE o.event_id = next.event_id
        RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.topic, o.schema_subject, o.partition_key, o.payload`

	rows, err := d.pool.Query(ctx, query, d.batchSize, claimLease)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	slices.SortFunc(claimed, func(a, b Message) int { return cmp.Compare(a.EventID, b.EventID) })
	return claimed, nil
}

// deliver publishes claimed events one write per topic, preserving event order
// within a topic. An event whose schema cannot be resolved fails alone; a
// failed write fails every event of that topic.
func (d *Dispatcher) deliver(ctx context.Context, claimed []Message) (delivered []Message, failures []failure) {
	type topicBatch struct {
		msgs    []Message
		records []kafka.Message
	}
	var order []string
	batches := make(map[string]*topicBatch)

	for _, msg := range claimed {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			failures = append(failures, failure{msg: msg, reason: err.Error()})
			continue
		}
		b, ok := batches[msg.Topic]
		if !ok {
			b = &topicBatch{}
			batches[msg.Topic] = b
			order = append(order, msg.Topic)
		}
		b.msgs = append(b.msgs, msg)
		b.records = append(b.records, toRecord(msg, schemaID))
	}

	for _, topic := range order {
		b := batches[topic]
		if err := d.producer.WriteMessages(ctx, topic, b.records...); err != nil {
			for _, msg := range b.msgs {
				failures = append(failures, failure{msg: msg, reason: fmt.Sprintf("%v (topic=%s)", err, topic)})
			}
			continue
		}
		delivered = append(delivered, b.msgs...)
	}
	return delivered, failures
}

func toRecord(msg Message, schemaID int) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
		},
	}
}

func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		schemaLookups.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	if d.registry == nil {
		schemaLookups.WithLabelValues("unregistered").Inc()
		return 0, nil
	}
	cacheKey := msg.SchemaSubject + "::" + meta.Schema
	if id, found := d.schemaIDs.Load(cacheKey); found {
		schemaLookups.WithLabelValues("cached").Inc()
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		schemaLookups.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("resolve schema %s: %w", msg.SchemaSubject, err)
	}
	schemaLookups.WithLabelValues("registered").Inc()
	d.schemaIDs.Store(cacheKey, id)
	return id, nil
}

// encodeWireFormat prefixes payload with the Confluent magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
