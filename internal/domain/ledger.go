package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IdempotenceKey derives the deterministic key for one logical time entry.
func IdempotenceKey(blockID, category string, duration time.Duration) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", blockID, category, int64(duration/time.Second))))
	return hex.EncodeToString(sum[:])[:32]
}

// ReservationState describes what the ledger knew about a key when it was reserved.
type ReservationState uint8

const (
	// ReservationAcquired means the key was unknown and is now pending for the caller.
	ReservationAcquired ReservationState = iota + 1
	// ReservationPending means an earlier attempt reserved the key but never
	// recorded an outcome; the remote write may or may not have happened.
	ReservationPending
	// ReservationCompleted means the entry was already logged remotely.
	ReservationCompleted
)

// Reservation is the ledger's answer to Reserve.
type Reservation struct {
	State         ReservationState
	RemoteEntryID string
}

// LedgerRef ties a ledger row back to the draft entry that produced it.
type LedgerRef struct {
	DraftID string
	EntryID string
}

// Ledger is the durable record of idempotence key to remote entry id that is
// consulted before every ticketing write. Completed rows are never modified.
type Ledger interface {
	Reserve(ctx context.Context, key string, ref LedgerRef) (Reservation, error)
	Complete(ctx context.Context, key, remoteEntryID string) error
	Release(ctx context.Context, key string) error
}
