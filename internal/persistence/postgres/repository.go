package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/events"
	"example.com/worklog/internal/observability"
)

const uniqueViolation = "23505"

// DraftRepository provides Postgres-backed persistence for drafts and their
// outbox events.
type DraftRepository struct {
	pool *pgxpool.Pool
}

// NewDraftRepository constructs a DraftRepository.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool}
}

const draftColumns = `draft_id, range_key, range_start, range_end, run_id, state, entries, version, approved_at, approved_by, created_at, updated_at`

// Create persists the draft and its draft.created event inside a single transaction.
func (r *DraftRepository) Create(ctx context.Context, draft domain.Draft) (err error) {
	entries, err := marshalEntries(draft.Entries)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertDraft = `INSERT INTO drafts (` + draftColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err = tx.Exec(ctx, insertDraft,
		draft.ID,
		draft.Key,
		draft.Range.Start,
		draft.Range.End,
		draft.RunID,
		draft.State.String(),
		entries,
		draft.Version,
		draft.ApprovedAt,
		draft.ApprovedBy,
		draft.CreatedAt,
		draft.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDraftExists
		}
		return err
	}

	if err = insertOutbox(ctx, tx, draft, events.TypeDraftCreated, events.NewDraftCreated(draft)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get returns the most recent draft for the key, or nil when none exists.
func (r *DraftRepository) Get(ctx context.Context, key string) (*domain.Draft, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts
        WHERE range_key = $1 ORDER BY created_at DESC, draft_id DESC LIMIT 1`, key)
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &draft, nil
}

// List returns drafts newest first.
func (r *DraftRepository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Draft, *domain.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + draftColumns + ` FROM drafts`
	if cursor != nil {
		query += ` WHERE (created_at, draft_id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, draft_id DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Draft, 0, limit)
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// Update locks the current draft row for the key, applies fn and writes the
// result with a bumped version. A state change also records a
// draft.state_changed event in the same transaction.
func (r *DraftRepository) Update(ctx context.Context, key string, fn func(*domain.Draft) error) (out *domain.Draft, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts
        WHERE range_key = $1 ORDER BY created_at DESC, draft_id DESC LIMIT 1 FOR UPDATE`, key)
	current, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDraftNotFound
		}
		return nil, err
	}

	working := current.Clone()
	if err = fn(&working); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			err = tx.Commit(ctx)
			if err != nil {
				return nil, err
			}
			return &current, nil
		}
		return nil, err
	}
	working.Version = current.Version + 1
	if working.UpdatedAt.IsZero() || !working.UpdatedAt.After(current.UpdatedAt) {
		working.UpdatedAt = time.Now().UTC()
	}

	entries, err := marshalEntries(working.Entries)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `UPDATE drafts
        SET state = $2, entries = $3, version = $4, approved_at = $5, approved_by = $6, updated_at = $7
        WHERE draft_id = $1`,
		working.ID,
		working.State.String(),
		entries,
		working.Version,
		working.ApprovedAt,
		working.ApprovedBy,
		working.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if working.State != current.State {
		if err = insertOutbox(ctx, tx, working, events.TypeDraftStateChanged, events.NewDraftStateChanged(current.State, working)); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	if working.State != current.State {
		observability.RecordTransition(working.State.String())
	}
	return &working, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, draft domain.Draft, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	route, ok := events.Catalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}
	dedupeKey := fmt.Sprintf("%s:%d:%s", draft.ID, draft.Version, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		events.AggregateDraft,
		draft.ID,
		eventType,
		route.Topic,
		route.SchemaSubject,
		draft.Key,
		body,
		dedupeKey,
	)
	return err
}

func scanDraft(row pgx.Row) (domain.Draft, error) {
	var (
		d       domain.Draft
		state   string
		entries []byte
	)
	err := row.Scan(&d.ID, &d.Key, &d.Range.Start, &d.Range.End, &d.RunID, &state, &entries, &d.Version, &d.ApprovedAt, &d.ApprovedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.State, err = domain.ParseDraftState(state); err != nil {
		return domain.Draft{}, err
	}
	if d.Entries, err = unmarshalEntries(entries); err != nil {
		return domain.Draft{}, fmt.Errorf("decode entries of draft %s: %w", d.ID, err)
	}
	return d, nil
}
