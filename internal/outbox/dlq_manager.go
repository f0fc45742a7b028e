package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays parked outbox events. Each due entry is either copied back
// into the outbox, rescheduled with exponential backoff, or quarantined once
// it has used up its retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewDLQManager applies defaults of five retries and a one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

// dlqEntry is an outbox_dlq row. Field order matches the due query.
type dlqEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

// RunOnce handles up to batchSize due entries and returns how many reached an
// outcome. Per-entry failures are joined into the returned error.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := m.due(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	var (
		handled int
		errs    []error
	)
	for _, entry := range entries {
		outcome, err := m.replay(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		recordDLQOutcome(entry, outcome)
		handled++
	}
	refreshDLQGauges(ctx, m.pool, m.logger)
	return handled, errors.Join(errs...)
}

func (m *DLQManager) due(ctx context.Context, limit int) ([]dlqEntry, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
           FROM outbox_dlq
          WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
          ORDER BY created_at
          LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select due dlq entries: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
}

func (m *DLQManager) replay(ctx context.Context, entry dlqEntry) (dlqOutcome, error) {
	if entry.RetryCount >= m.maxRetries {
		if _, err := m.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
			fmt.Sprintf("retry limit %d reached", m.maxRetries), entry.ID); err != nil {
			return "", err
		}
		m.logger.Warn("dlq entry quarantined",
			slog.Int64("dlq_id", entry.ID),
			slog.String("event_type", entry.EventType),
			slog.String("aggregate_id", entry.AggregateID),
			slog.String("last_reason", entry.Reason))
		return outcomeQuarantined, nil
	}

	requeueErr := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if err := requeue(ctx, tx, entry); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	if requeueErr == nil {
		return outcomeRequeued, nil
	}

	delay := m.backoffDelay(entry.RetryCount + 1)
	if _, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $1::interval,
                reason = $2
          WHERE dlq_id = $3`,
		delay, requeueErr.Error(), entry.ID); err != nil {
		return "", errors.Join(requeueErr, err)
	}
	m.logger.Info("dlq entry rescheduled",
		slog.Int64("dlq_id", entry.ID),
		slog.Duration("delay", delay),
		slog.Any("error", requeueErr))
	return outcomeRescheduled, nil
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// requeue copies the parked event back into the outbox as a fresh row.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic,
		entry.SchemaSubject, entry.PartitionKey, entry.Payload)
	return err
}
