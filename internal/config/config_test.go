package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, LedgerPostgres, cfg.LedgerBackend)
	require.Equal(t, time.Minute, cfg.MergeMinOverlap)
	require.Equal(t, domain.AllSources, cfg.MergeSourcePriority)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Empty(t, cfg.SchemaRegistryURL)
	require.NotNil(t, cfg.Location)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("MERGE_MIN_OVERLAP", "5m")
	t.Setenv("MERGE_SOURCE_PRIORITY", "commit,calendar,commit")
	t.Setenv("LEDGER_BACKEND", "SQLite")
	t.Setenv("WORKLOG_TIMEZONE", "Europe/Berlin")
	t.Setenv("CATEGORIZE_RATE", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 5*time.Minute, cfg.MergeMinOverlap)
	require.Equal(t, []domain.Source{domain.SourceCommit, domain.SourceCalendar}, cfg.MergeSourcePriority)
	require.Equal(t, LedgerSQLite, cfg.LedgerBackend)
	require.Equal(t, "Europe/Berlin", cfg.Location.String())
	require.InDelta(t, 0.5, cfg.CategorizeRate, 1e-9)
}

func TestLoadReportsMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	t.Setenv("DLQ_MAX_RETRIES", "many")
	t.Setenv("LEDGER_BACKEND", "mysql")
	t.Setenv("MERGE_SOURCE_PRIORITY", "calendar,fax")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"OUTBOX_POLL_INTERVAL", "DLQ_MAX_RETRIES", "LEDGER_BACKEND", "MERGE_SOURCE_PRIORITY"} {
		require.ErrorContains(t, err, key)
	}
}

func TestParseSources(t *testing.T) {
	got, err := ParseSources("calendar, meeting ,github")
	require.NoError(t, err)
	require.Equal(t, []domain.Source{domain.SourceCalendar, domain.SourceChat, domain.SourceCommit}, got)

	_, err = ParseSources(" , ")
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	t.Setenv("DLQ_POLL_INTERVAL", "0s")

	_, err := Load()
	require.ErrorContains(t, err, "DLQ_POLL_INTERVAL")
}
