package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"example.com/worklog/internal/domain"
)

func TestWriteTimesheet(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	draft := domain.Draft{
		Key: "2025-05-01:2025-05-02",
		Entries: []domain.Entry{
			{ID: "a", Start: start, End: start.Add(time.Hour), Title: "Planning", Category: "PROJ-1", Confidence: 0.9,
				DurationToLog: time.Hour, Sources: []domain.Source{domain.SourceCalendar}, SubmissionStatus: domain.SubmissionSubmitted, RemoteEntryID: "10001"},
			{ID: "b", Start: start.Add(2 * time.Hour), End: start.Add(150 * time.Minute), Title: "Review", Category: "PROJ-1",
				DurationToLog: 30 * time.Minute, Sources: []domain.Source{domain.SourceCommit, domain.SourceCoding}, SubmissionStatus: domain.SubmissionNotSubmitted},
			{ID: "c", Start: start.Add(4 * time.Hour), End: start.Add(4*time.Hour + 20*time.Minute), Title: "Chat", Category: domain.Uncategorized,
				DurationToLog: 20 * time.Minute, CategorizationError: "reasoner unavailable", SubmissionStatus: domain.SubmissionNotSubmitted},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTimesheet(&buf, draft))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{EntriesSheet, TotalsSheet}, f.GetSheetList())

	rows, err := f.GetRows(EntriesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "Title", rows[0][2])
	require.Equal(t, "Planning", rows[1][2])
	require.Equal(t, "1h", rows[1][6])
	require.Equal(t, "commit,coding", rows[2][7])
	require.Equal(t, "reasoner unavailable", rows[3][10])

	totals, err := f.GetRows(TotalsSheet)
	require.NoError(t, err)
	require.Equal(t, []string{"PROJ-1", "2", "90", "1h 30m"}, totals[1])
	require.Equal(t, []string{"Total", "3", "110", "1h 50m"}, totals[3])

	require.Equal(t, "worklog-2025-05-01_2025-05-02.xlsx", Filename(draft))
}
