package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worklog/internal/domain"
)

// Ledger is the durable idempotence ledger stored in submission_ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger constructs a Ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Reserve inserts a pending row for key or reports the row already present.
func (l *Ledger) Reserve(ctx context.Context, key string, ref domain.LedgerRef) (domain.Reservation, error) {
	tag, err := l.pool.Exec(ctx, `INSERT INTO submission_ledger (idempotence_key, draft_id, entry_id)
        VALUES ($1,$2,$3) ON CONFLICT (idempotence_key) DO NOTHING`, key, ref.DraftID, ref.EntryID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if tag.RowsAffected() == 1 {
		return domain.Reservation{State: domain.ReservationAcquired}, nil
	}

	var remoteID *string
	if err := l.pool.QueryRow(ctx, `SELECT remote_entry_id FROM submission_ledger
        WHERE idempotence_key = $1 AND completed_at IS NOT NULL`, key).Scan(&remoteID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{State: domain.ReservationPending}, nil
		}
		return domain.Reservation{}, err
	}
	res := domain.Reservation{State: domain.ReservationCompleted}
	if remoteID != nil {
		res.RemoteEntryID = *remoteID
	}
	return res, nil
}

// Complete records the remote entry id. Completed rows are never rewritten.
func (l *Ledger) Complete(ctx context.Context, key, remoteEntryID string) error {
	tag, err := l.pool.Exec(ctx, `UPDATE submission_ledger
        SET remote_entry_id = $2, completed_at = NOW()
        WHERE idempotence_key = $1 AND completed_at IS NULL`, key, remoteEntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing *string
	err = l.pool.QueryRow(ctx, `SELECT remote_entry_id FROM submission_ledger WHERE idempotence_key = $1`, key).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, err = l.pool.Exec(ctx, `INSERT INTO submission_ledger (idempotence_key, draft_id, entry_id, remote_entry_id, completed_at)
                VALUES ($1,'','',$2,NOW()) ON CONFLICT (idempotence_key) DO NOTHING`, key, remoteEntryID)
		}
		return err
	}
	if existing == nil || *existing != remoteEntryID {
		return fmt.Errorf("ledger key %s already completed with a different remote entry", key)
	}
	return nil
}

// Release drops a pending reservation. Completed rows are kept.
func (l *Ledger) Release(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM submission_ledger WHERE idempotence_key = $1 AND completed_at IS NULL`, key)
	return err
}
