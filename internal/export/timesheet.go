// Package export renders drafts as XLSX timesheets.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"example.com/worklog/internal/domain"
)

// Sheet names.
const (
	EntriesSheet = "Timesheet"
	TotalsSheet  = "Totals"
)

var entryHeader = []interface{}{"Start", "End", "Title", "Category", "Confidence", "Minutes", "Logged", "Sources", "Status", "Remote ID", "Error"}

// WriteTimesheet writes one row per entry plus a per-category totals sheet.
func WriteTimesheet(w io.Writer, draft domain.Draft) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), EntriesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(EntriesSheet, "A1", &entryHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, e := range draft.Entries {
		sources := make([]string, 0, len(e.Sources))
		for _, s := range e.Sources {
			sources = append(sources, string(s))
		}
		errText := e.SubmissionError
		if errText == "" {
			errText = e.CategorizationError
		}
		row := []interface{}{
			e.Start.Format("2006-01-02 15:04"),
			e.End.Format("2006-01-02 15:04"),
			e.Title,
			e.Category,
			e.Confidence,
			int(e.DurationToLog.Minutes()),
			domain.FormatDuration(e.DurationToLog),
			strings.Join(sources, ","),
			e.SubmissionStatus.String(),
			e.RemoteEntryID,
			errText,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(EntriesSheet, cell, &row); err != nil {
			return fmt.Errorf("write entry %s: %w", e.ID, err)
		}
	}

	if _, err := f.NewSheet(TotalsSheet); err != nil {
		return fmt.Errorf("add totals sheet: %w", err)
	}
	header := []interface{}{"Category", "Entries", "Minutes", "Logged"}
	if err := f.SetSheetRow(TotalsSheet, "A1", &header); err != nil {
		return err
	}
	totals := domain.CategoryTotals(draft.Entries)
	for i, t := range totals {
		row := []interface{}{t.Category, t.Entries, int(t.Duration.Minutes()), domain.FormatDuration(t.Duration)}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(TotalsSheet, cell, &row); err != nil {
			return err
		}
	}
	footer := []interface{}{"Total", len(draft.Entries), int(draft.TotalDuration().Minutes()), domain.FormatDuration(draft.TotalDuration())}
	cell, err := excelize.CoordinatesToCellName(1, len(totals)+2)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(TotalsSheet, cell, &footer); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

// Filename is the attachment name used for a draft export.
func Filename(draft domain.Draft) string {
	return "worklog-" + strings.ReplaceAll(draft.Key, ":", "_") + ".xlsx"
}
