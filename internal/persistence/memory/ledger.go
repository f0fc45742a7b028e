package memory

import (
	"context"
	"fmt"
	"sync"

	"example.com/worklog/internal/domain"
)

type ledgerRow struct {
	ref      domain.LedgerRef
	remoteID string
	complete bool
}

// Ledger is a non-durable idempotence ledger for tests and dry runs.
type Ledger struct {
	mu   sync.Mutex
	rows map[string]ledgerRow
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{rows: make(map[string]ledgerRow)}
}

// Reserve implements domain.Ledger.
func (l *Ledger) Reserve(ctx context.Context, key string, ref domain.LedgerRef) (domain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[key]
	switch {
	case !ok:
		l.rows[key] = ledgerRow{ref: ref}
		return domain.Reservation{State: domain.ReservationAcquired}, nil
	case row.complete:
		return domain.Reservation{State: domain.ReservationCompleted, RemoteEntryID: row.remoteID}, nil
	default:
		return domain.Reservation{State: domain.ReservationPending}, nil
	}
}

// Complete implements domain.Ledger.
func (l *Ledger) Complete(ctx context.Context, key, remoteEntryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[key]
	if ok && row.complete {
		if row.remoteID != remoteEntryID {
			return fmt.Errorf("ledger key %s already completed as %s", key, row.remoteID)
		}
		return nil
	}
	row.remoteID = remoteEntryID
	row.complete = true
	l.rows[key] = row
	return nil
}

// Release implements domain.Ledger.
func (l *Ledger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if row, ok := l.rows[key]; ok && !row.complete {
		delete(l.rows, key)
	}
	return nil
}

// Len reports how many keys are recorded.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
