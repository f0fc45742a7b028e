// worklog collects a day's activity into a draft timesheet for review.
// It never approves or submits; that happens through the review API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "worklog",
	Short: "Collect activity into reviewable timesheet drafts",
	Long: `worklog gathers calendar events, chat meetings, commits and coding sessions,
merges overlapping activity into blocks, categorizes each block against the
project taxonomy and stores the result as a draft awaiting review.

Configuration is read from the environment (POSTGRES_URL, TAXONOMY_PATH, ...).`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(collectCmd, migrateCmd, taxonomyCmd, tokenCmd)
}
