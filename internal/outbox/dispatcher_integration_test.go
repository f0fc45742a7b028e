//go:build integration

package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/events"
	"example.com/worklog/internal/testsupport/pgtest"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	aggregateID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, aggregateID, events.TypeDraftCreated))

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, WithSchemaRegistry(&stubRegistry{id: 42}))

	beforeDelivered := testutil.ToFloat64(deliveredCounter.WithLabelValues("worklog_draft_events"))
	beforeHistogram := histogramSampleCount(t)

	dispatch(t, ctx, dispatcher)

	require.Len(t, producer.writes, 1)
	require.Equal(t, "worklog_draft_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	msg := producer.writes[0].messages[0]
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(msg.Value[1:5]))
	require.Equal(t, "2025-05-01", string(msg.Key))
	require.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(events.TypeDraftCreated)})
	require.Contains(t, msg.Headers, kafka.Header{Key: "aggregate_id", Value: []byte(aggregateID)})

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter.WithLabelValues("worklog_draft_events")), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherWithoutRegistryUsesSchemaZero(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeDraftStateChanged))

	producer := &stubProducer{}
	dispatch(t, ctx, NewDispatcher(pool, producer, 10*time.Millisecond, 5))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "worklog_draft_state_changed", producer.writes[0].topic)
	require.Zero(t, binary.BigEndian.Uint32(producer.writes[0].messages[0].Value[1:5]))
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	aggregateID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, aggregateID, events.TypeDraftStateChanged))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, WithSchemaRegistry(&stubRegistry{id: 7}))

	topic := "worklog_draft_state_changed"
	beforeFailed := testutil.ToFloat64(failedCounter.WithLabelValues(topic))
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(topic))

	dispatch(t, ctx, dispatcher)

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter.WithLabelValues(topic)), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(topic)), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE aggregate_id = $1`, aggregateID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherParksOnlyTheFailingTopic(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeDraftCreated))
	changedID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, changedID, events.TypeDraftStateChanged))

	producer := &stubProducer{err: errors.New("leader not available"), failTopic: "worklog_draft_state_changed"}
	require.Equal(t, 2, dispatch(t, ctx, NewDispatcher(pool, producer, time.Millisecond, 10)))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "worklog_draft_events", producer.writes[0].topic)

	var parked string
	require.NoError(t, pool.QueryRow(ctx, `SELECT aggregate_id FROM outbox_dlq`).Scan(&parked))
	require.Equal(t, changedID, parked)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeDraftCreated))
	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeDraftCreated))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, WithSchemaRegistry(registry))
	beforeCached := testutil.ToFloat64(schemaLookups.WithLabelValues("cached"))

	dispatch(t, ctx, dispatcher)

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.InDelta(t, beforeCached+1, testutil.ToFloat64(schemaLookups.WithLabelValues("cached")), 0.0001)
	require.Len(t, registry.calls, 1, "schema ids are cached per subject")
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), "draft.unknown")
	require.NotZero(t, eventID)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, WithSchemaRegistry(registry))

	dispatch(t, ctx, dispatcher)

	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)

	var dlqCount int
	var reason string
	err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&dlqCount, &reason)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount)
	require.Contains(t, reason, "no schema metadata for event_type=draft.unknown")
}

func TestDLQManagerRequeuesAndQuarantines(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeDraftCreated))
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("broker down")}, time.Millisecond, 10)
	dispatch(t, ctx, failing)

	manager := NewDLQManager(pool, 1, time.Second, nil)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))

	producer := &stubProducer{}
	dispatch(t, ctx, NewDispatcher(pool, producer, time.Millisecond, 10))
	require.Len(t, producer.writes, 1)

	_, err = pool.Exec(ctx, `UPDATE outbox SET published_at = NULL, claimed_at = NULL`)
	require.NoError(t, err)
	dispatch(t, ctx, failing)
	_, err = pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 1`)
	require.NoError(t, err)

	replayed, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, replayed)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 2, quarantined)
	require.Equal(t, float64(2), testutil.ToFloat64(dlqQuarantinedGauge))
}

func dispatch(t *testing.T, ctx context.Context, d *Dispatcher) int {
	t.Helper()
	n, err := d.dispatchOnce(ctx)
	require.NoError(t, err)
	return n
}

type stubProducer struct {
	mu        sync.Mutex
	err       error
	failTopic string
	writes    []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil && (s.failTopic == "" || s.failTopic == topic) {
		return s.err
	}
	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls []string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	return s.id, nil
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, aggregateID, eventType string) int64 {
	t.Helper()

	route, ok := events.Catalog[eventType]
	if !ok {
		route = events.Catalog[events.TypeDraftCreated]
	}
	payload, err := json.Marshal(map[string]any{"draft_id": aggregateID, "draft_key": "2025-05-01"})
	require.NoError(t, err)

	var eventID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		events.AggregateDraft, aggregateID, eventType, route.Topic, route.SchemaSubject, "2025-05-01", payload,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}
