package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/events"
)

func framed(schemaID int, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

func draftRecord(eventType string, payload string) kafka.Message {
	return kafka.Message{
		Topic:     "worklog_draft_events",
		Partition: 2,
		Offset:    10,
		Key:       []byte("2025-05-01"),
		Time:      time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC),
		Value:     framed(42, []byte(payload)),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "aggregate_id", Value: []byte("d-1")},
			{Key: "schema_subject", Value: []byte("worklog_draft_events-value")},
		},
	}
}

func TestDecodeRecord(t *testing.T) {
	payload := `{"draft_id":"d-1","draft_key":"2025-05-01"}`
	msg, err := decodeRecord(draftRecord(events.TypeDraftCreated, payload))
	require.NoError(t, err)
	require.Equal(t, events.TypeDraftCreated, msg.EventType)
	require.Equal(t, "2025-05-01", msg.Key)
	require.Equal(t, "d-1", msg.AggregateID)
	require.Equal(t, "worklog_draft_events-value", msg.SchemaSubject)
	require.Equal(t, 42, msg.SchemaID)
	require.Equal(t, 2, msg.Partition)
	require.JSONEq(t, payload, string(msg.Payload))

	badMagic := draftRecord(events.TypeDraftCreated, `{}`)
	badMagic.Value[0] = 1
	cases := map[string]kafka.Message{
		"short":      {Value: []byte{0, 1}},
		"bad magic":  badMagic,
		"no headers": {Value: framed(1, []byte(`{}`))},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeRecord(rec)
			require.Error(t, err)
		})
	}
}

func TestProcessorCommitsHandledRecords(t *testing.T) {
	reader := &stubReader{records: []kafka.Message{draftRecord(events.TypeDraftCreated, `{"draft_id":"d-1"}`)}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commits)
	require.Equal(t, "2025-05-01", handler.last.Key)
}

func TestProcessorRetriesThenLeavesRecordUncommitted(t *testing.T) {
	reader := &stubReader{records: []kafka.Message{draftRecord(events.TypeDraftStateChanged, `{"draft_id":"d-1"}`)}}
	handler := &stubHandler{err: errors.New("pool exhausted")}

	p := NewProcessor(reader, handler, WithLogger(testLogger(t)), WithHandlerRetries(2, time.Millisecond))
	require.ErrorIs(t, p.Run(context.Background()), context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Zero(t, reader.commits)
}

func TestProcessorRecoversOnRetry(t *testing.T) {
	reader := &stubReader{records: []kafka.Message{draftRecord(events.TypeDraftStateChanged, `{"draft_id":"d-1"}`)}}
	handler := &stubHandler{err: errors.New("deadlock detected"), failures: 1}

	p := NewProcessor(reader, handler, WithLogger(testLogger(t)), WithHandlerRetries(3, time.Millisecond))
	require.ErrorIs(t, p.Run(context.Background()), context.Canceled)

	require.Equal(t, 2, handler.calls)
	require.Equal(t, 1, reader.commits)
}

func TestProcessorCommitsUndecodableRecords(t *testing.T) {
	reader := &stubReader{records: []kafka.Message{
		{Topic: "worklog_draft_events", Value: []byte{0, 1}},
		{Topic: "worklog_draft_events", Value: framed(1, []byte(`{}`))},
	}}
	handler := &stubHandler{}

	require.ErrorIs(t, NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background()), context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 2, reader.commits)
}

// stubReader replays records and then reports cancellation.
type stubReader struct {
	records []kafka.Message
	next    int
	commits int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.next >= len(r.records) {
		return kafka.Message{}, context.Canceled
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

func (r *stubReader) CommitMessages(context.Context, ...kafka.Message) error {
	r.commits++
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler fails the first failures calls with err, or every call when failures is zero.
type stubHandler struct {
	calls    int
	err      error
	failures int
	last     Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.err != nil && (h.failures == 0 || h.calls <= h.failures) {
		return h.err
	}
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
