//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/persistence/postgres"
	"example.com/worklog/internal/testsupport/pgtest"
)

func sampleRange(t *testing.T) domain.DateRange {
	t.Helper()
	r, err := domain.ParseDateRange("2025-05-01", time.UTC)
	require.NoError(t, err)
	return r
}

func sampleEntry(id string) domain.Entry {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return domain.Entry{
		ID:               id,
		BlockID:          "block-" + id,
		Start:            start,
		End:              start.Add(time.Hour),
		Title:            "Sprint planning",
		Sources:          []domain.Source{domain.SourceCalendar, domain.SourceChat},
		TotalDuration:    time.Hour,
		Category:         "PROJ-1",
		Confidence:       0.8,
		DurationToLog:    time.Hour,
		SubmissionStatus: domain.SubmissionNotSubmitted,
	}
}

func TestDraftRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	repo := postgres.NewDraftRepository(pool)
	svc := domain.NewService(repo)

	draft, err := svc.CreateDraft(ctx, domain.CreateDraftInput{
		Range:   sampleRange(t),
		RunID:   "run-1",
		Entries: []domain.Entry{sampleEntry("e1")},
	})
	require.NoError(t, err)

	_, err = svc.CreateDraft(ctx, domain.CreateDraftInput{Range: sampleRange(t)})
	require.ErrorIs(t, err, domain.ErrDraftExists)

	stored, err := svc.GetDraft(ctx, draft.Key)
	require.NoError(t, err)
	require.Equal(t, draft.ID, stored.ID)
	require.Equal(t, domain.DraftPendingReview, stored.State)
	require.Len(t, stored.Entries, 1)
	require.Equal(t, time.Hour, stored.Entries[0].DurationToLog)
	require.Equal(t, []domain.Source{domain.SourceCalendar, domain.SourceChat}, stored.Entries[0].Sources)

	d := 45 * time.Minute
	edited, err := svc.EditEntry(ctx, draft.Key, "e1", domain.EditEntryInput{DurationToLog: &d})
	require.NoError(t, err)
	require.Equal(t, int64(2), edited.Version)

	approved, err := svc.Approve(ctx, draft.Key, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.DraftApproved, approved.State)
	require.Equal(t, "alice", *approved.ApprovedBy)

	var created, changed int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = 'draft.created'`).Scan(&created))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = 'draft.state_changed'`).Scan(&changed))
	require.Equal(t, 1, created)
	require.Equal(t, 1, changed, "edits do not change state")

	drafts, next, err := svc.ListDrafts(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Nil(t, next)
}

func TestDraftRepositoryUpdateMissing(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	_, err := domain.NewService(postgres.NewDraftRepository(pool)).Approve(ctx, "2030-01-01", "alice")
	require.ErrorIs(t, err, domain.ErrDraftNotFound)
}

func TestLedgerReserveCompleteRelease(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)
	ledger := postgres.NewLedger(pool)
	ref := domain.LedgerRef{DraftID: "d-1", EntryID: "e-1"}

	res, err := ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationAcquired, res.State)

	res, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationPending, res.State)

	require.NoError(t, ledger.Complete(ctx, "k1", "10001"))
	require.NoError(t, ledger.Complete(ctx, "k1", "10001"))
	require.Error(t, ledger.Complete(ctx, "k1", "10002"))

	res, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationCompleted, res.State)
	require.Equal(t, "10001", res.RemoteEntryID)

	require.NoError(t, ledger.Release(ctx, "k1"))
	res, err = ledger.Reserve(ctx, "k1", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationCompleted, res.State, "completed rows survive release")

	_, err = ledger.Reserve(ctx, "k2", ref)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "k2"))
	res, err = ledger.Reserve(ctx, "k2", ref)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationAcquired, res.State)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)

	require.NoError(t, postgres.Migrate(ctx, pool, nil))

	var versions int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	require.Equal(t, 2, versions)
}
