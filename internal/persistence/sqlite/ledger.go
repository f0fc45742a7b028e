// Package sqlite stores the idempotence ledger in a local SQLite file for
// single-machine runs without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"example.com/worklog/internal/domain"
)

// Ledger implements domain.Ledger on SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path and applies its schema.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("open ledger: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open ledger: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open ledger: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open ledger: migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS submission_ledger (
		idempotence_key TEXT PRIMARY KEY,
		draft_id TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		remote_entry_id TEXT NULL,
		reserved_at TEXT NOT NULL,
		completed_at TEXT NULL
	);`)
	return err
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Reserve implements domain.Ledger.
func (l *Ledger) Reserve(ctx context.Context, key string, ref domain.LedgerRef) (domain.Reservation, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := l.db.ExecContext(ctx, `INSERT INTO submission_ledger (idempotence_key, draft_id, entry_id, reserved_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (idempotence_key) DO NOTHING`, key, ref.DraftID, ref.EntryID, now)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("reserve: insert: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return domain.Reservation{State: domain.ReservationAcquired}, nil
	}

	var remoteID, completedAt sql.NullString
	err = l.db.QueryRowContext(ctx, `SELECT remote_entry_id, completed_at FROM submission_ledger WHERE idempotence_key = ?`, key).
		Scan(&remoteID, &completedAt)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("reserve: select: %w", err)
	}
	if !completedAt.Valid {
		return domain.Reservation{State: domain.ReservationPending}, nil
	}
	return domain.Reservation{State: domain.ReservationCompleted, RemoteEntryID: remoteID.String}, nil
}

// Complete implements domain.Ledger.
func (l *Ledger) Complete(ctx context.Context, key, remoteEntryID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := l.db.ExecContext(ctx, `UPDATE submission_ledger SET remote_entry_id = ?, completed_at = ?
		WHERE idempotence_key = ? AND completed_at IS NULL`, remoteEntryID, now, key)
	if err != nil {
		return fmt.Errorf("complete: update: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var existing sql.NullString
	err = l.db.QueryRowContext(ctx, `SELECT remote_entry_id FROM submission_ledger WHERE idempotence_key = ?`, key).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = l.db.ExecContext(ctx, `INSERT INTO submission_ledger (idempotence_key, draft_id, entry_id, remote_entry_id, reserved_at, completed_at)
			VALUES (?, '', '', ?, ?, ?)`, key, remoteEntryID, now, now)
		return err
	}
	if err != nil {
		return fmt.Errorf("complete: select: %w", err)
	}
	if existing.String != remoteEntryID {
		return fmt.Errorf("ledger key %s already completed with a different remote entry", key)
	}
	return nil
}

// Release implements domain.Ledger.
func (l *Ledger) Release(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM submission_ledger WHERE idempotence_key = ? AND completed_at IS NULL`, key)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}
