package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/events"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditHandler appends every draft lifecycle event to draft_event_log so
// reviewers can reconstruct who approved what and when.
type AuditHandler struct {
	db     execer
	logger *slog.Logger
}

// NewAuditHandler accepts a *pgxpool.Pool or any other Exec-capable handle.
func NewAuditHandler(db execer, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{db: db, logger: logger}
}

// auditFields is the subset shared by DraftCreated and DraftStateChanged.
type auditFields struct {
	DraftID  string `json:"draft_id"`
	DraftKey string `json:"draft_key"`
	State    string `json:"state"`
	Version  int64  `json:"version"`
}

// Handle records msg. Unknown event types and payloads without a draft id are
// logged and dropped so they do not block the partition; only storage errors
// are returned.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	if _, known := events.Catalog[msg.EventType]; !known {
		h.drop(msg, "unknown event type")
		return nil
	}

	var fields auditFields
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		h.drop(msg, err.Error())
		return nil
	}
	if fields.DraftID == "" {
		h.drop(msg, "payload has no draft_id")
		return nil
	}
	if fields.State == "" && msg.EventType == events.TypeDraftCreated {
		fields.State = domain.DraftPendingReview.String()
	}
	aggregateID := msg.AggregateID
	if aggregateID == "" {
		aggregateID = fields.DraftID
	}

	_, err := h.db.Exec(ctx,
		`INSERT INTO draft_event_log
            (event_type, aggregate_id, draft_key, state, draft_version, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType, aggregateID, fields.DraftKey, fields.State, fields.Version,
		msg.SchemaID, msg.SchemaSubject, msg.Topic, msg.Partition, msg.Offset, msg.Payload, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit %s for draft %s: %w", msg.EventType, fields.DraftKey, err)
	}
	return nil
}

func (h *AuditHandler) drop(msg Message, reason string) {
	recordRejected(msg.Topic, stagePayload)
	h.logger.Warn("audit event dropped",
		slog.String("topic", msg.Topic),
		slog.Int64("offset", msg.Offset),
		slog.String("event_type", msg.EventType),
		slog.String("reason", reason))
}
