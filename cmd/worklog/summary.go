package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC66")).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary formats a run for a terminal.
func renderSummary(s *pipeline.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("worklog"), mutedStyle.Render(s.Range.Key()))
	fmt.Fprintf(&b, "%s %d payloads, %d records, %d blocks\n",
		mutedStyle.Render("collected:"), s.Payloads, s.Records, s.Blocks)

	for _, fe := range s.SourceErrors {
		fmt.Fprintf(&b, "%s %s: %v\n", warnStyle.Render("source failed"), fe.Source, fe.Err)
	}
	if n := len(s.NormalizationErrors); n > 0 {
		fmt.Fprintf(&b, "%s %d payloads rejected\n", warnStyle.Render("normalization:"), n)
	}

	switch {
	case s.NoActivity:
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("no activity found; no draft created"))
	case s.Draft != nil:
		fmt.Fprintf(&b, "%s draft %s with %d entries (%s) awaiting review\n",
			successStyle.Render("✓"), s.Draft.Key, len(s.Draft.Entries), domain.FormatDuration(s.Draft.TotalDuration()))
		if s.CategorizationFailures > 0 {
			fmt.Fprintf(&b, "%s %d entries need a category\n", warnStyle.Render("review:"), s.CategorizationFailures)
		}
		var rows strings.Builder
		for i, t := range s.Categories {
			if i > 0 {
				rows.WriteByte('\n')
			}
			fmt.Fprintf(&rows, "%-16s %3d  %s", t.Category, t.Entries, domain.FormatDuration(t.Duration))
		}
		if rows.Len() > 0 {
			b.WriteString(boxStyle.Render(rows.String()))
			b.WriteByte('\n')
		}
	}

	if s.NotifyError != nil {
		fmt.Fprintf(&b, "%s %v\n", warnStyle.Render("notification failed:"), s.NotifyError)
	} else if s.Notified {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("reviewer notified"))
	}
	fmt.Fprintf(&b, "%s", mutedStyle.Render("run "+s.RunID+" in "+s.Elapsed.Round(time.Millisecond).String()))
	return b.String()
}
