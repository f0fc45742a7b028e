package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/worklog/internal/config"
	"example.com/worklog/internal/taxonomy"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the category taxonomy",
}

var taxonomyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse a taxonomy file and list its categories",
	Long: `Parse the taxonomy YAML and report every category id. Without a path the
file named by TAXONOMY_PATH is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.TaxonomyPath
		}
		tax, err := taxonomy.Load(path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, c := range tax.Categories() {
			fmt.Fprintf(out, "%-16s %s\n", c.ID, c.Description)
		}
		fmt.Fprintf(out, "%d categories OK (%s)\n", tax.Len(), path)
		return nil
	},
}

func init() {
	taxonomyCmd.AddCommand(taxonomyValidateCmd)
}
