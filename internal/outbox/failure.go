package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// failure is a claimed event that could not be published.
type failure struct {
	msg    Message
	reason string
}

func failedMessages(failures []failure) []Message {
	out := make([]Message, len(failures))
	for i, f := range failures {
		out[i] = f.msg
	}
	return out
}

// settle parks failures in outbox_dlq and marks every claimed event published
// in one transaction, so an event is never both pending and parked.
func settle(ctx context.Context, pool *pgxpool.Pool, claimed []Message, failures []failure) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if len(failures) > 0 {
		batch := &pgx.Batch{}
		for _, f := range failures {
			batch.Queue(`INSERT INTO outbox_dlq
                    (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
                 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`,
				f.msg.EventID, f.msg.EventType, f.msg.Topic, f.msg.Payload, f.reason,
				f.msg.AggregateType, f.msg.AggregateID, f.msg.SchemaSubject, f.msg.PartitionKey)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("park %d failed events: %w", len(failures), err)
		}
	}

	ids := make([]int64, len(claimed))
	for i, msg := range claimed {
		ids[i] = msg.EventID
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return tx.Commit(ctx)
}
