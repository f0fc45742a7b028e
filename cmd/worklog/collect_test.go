package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/config"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/pipeline"
	"example.com/worklog/internal/sources"
)

func TestResolveRangeDefaultsToToday(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2025, 5, 1, 23, 30, 0, 0, time.UTC) // already May 2 in Berlin

	rng, err := resolveRange("", loc, now)
	require.NoError(t, err)
	require.Equal(t, "2025-05-02", rng.Key())

	rng, err = resolveRange("2025-05-01:2025-05-03", loc, now)
	require.NoError(t, err)
	require.Equal(t, 3, rng.Days())

	_, err = resolveRange("05/01/2025", loc, now)
	require.Error(t, err)
}

func TestBuildAdaptersFallsBackToExportFiles(t *testing.T) {
	cfg := config.Config{ExportDir: t.TempDir()}
	adapters, err := buildAdapters(context.Background(), cfg, domain.AllSources)
	require.NoError(t, err)
	require.Len(t, adapters, len(domain.AllSources))
	for i, a := range adapters {
		require.IsType(t, &sources.File{}, a)
		require.Equal(t, domain.AllSources[i], a.Source())
	}
}

func TestBuildAdaptersUsesLiveAPIsWhenConfigured(t *testing.T) {
	cfg := config.Config{GitHubToken: "t", GitHubUsername: "alice", WakaTimeAPIKey: "k"}
	adapters, err := buildAdapters(context.Background(), cfg, []domain.Source{domain.SourceCommit, domain.SourceCoding})
	require.NoError(t, err)
	require.IsType(t, &sources.GitHub{}, adapters[0])
	require.IsType(t, &sources.WakaTime{}, adapters[1])

	cfg = config.Config{GitHubToken: "t"}
	_, err = buildAdapters(context.Background(), cfg, []domain.Source{domain.SourceCommit})
	require.ErrorContains(t, err, "commit")
}

func TestRenderSummary(t *testing.T) {
	rng, err := domain.ParseDateRange("2025-05-01", time.UTC)
	require.NoError(t, err)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	draft := &domain.Draft{Key: rng.Key(), Range: rng, Entries: []domain.Entry{{
		ID: "e1", Start: start, End: start.Add(65 * time.Minute), Category: "PROJ-123", DurationToLog: 65 * time.Minute,
	}}}

	out := renderSummary(&pipeline.RunSummary{
		RunID:        "run-1",
		Range:        rng,
		Payloads:     3,
		Records:      3,
		Blocks:       1,
		SourceErrors: []*domain.SourceFetchError{{Source: domain.SourceCoding, Err: errors.New("401")}},
		Draft:        draft,
		Categories:   domain.CategoryTotals(draft.Entries),
		NotifyError:  errors.New("smtp down"),
	})

	require.Contains(t, out, "2025-05-01")
	require.Contains(t, out, "source failed")
	require.Contains(t, out, "coding")
	require.Contains(t, out, "1h 5m")
	require.Contains(t, out, "PROJ-123")
	require.Contains(t, out, "smtp down")

	empty := renderSummary(&pipeline.RunSummary{RunID: "run-2", Range: rng, NoActivity: true})
	require.Contains(t, empty, "no draft created")
}
