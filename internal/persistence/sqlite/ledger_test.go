package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
)

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	ref := domain.LedgerRef{DraftID: "d-1", EntryID: "e-1"}

	ledger, err := Open(path)
	require.NoError(t, err)

	res, err := ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationAcquired, res.State)
	require.NoError(t, ledger.Complete(ctx, "k1", "10001"))

	_, err = ledger.Reserve(ctx, "k2", ref)
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	ledger, err = Open(path)
	require.NoError(t, err)
	defer ledger.Close()

	res, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationCompleted, res.State)
	require.Equal(t, "10001", res.RemoteEntryID)

	res, err = ledger.Reserve(ctx, "k2", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationPending, res.State)
}

func TestLedgerReleaseAndConflicts(t *testing.T) {
	ctx := context.Background()
	ledger, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()
	ref := domain.LedgerRef{DraftID: "d-1", EntryID: "e-1"}

	_, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "k1"))

	res, err := ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationAcquired, res.State)

	require.NoError(t, ledger.Complete(ctx, "k1", "a"))
	require.NoError(t, ledger.Complete(ctx, "k1", "a"))
	require.Error(t, ledger.Complete(ctx, "k1", "b"))

	require.NoError(t, ledger.Release(ctx, "k1"))
	res, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationCompleted, res.State)
}
