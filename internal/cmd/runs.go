package cmd

import (
	"github.com/spf13/cobra"

	"github.com/novelcondense/novelcondense/internal/output"
)

var runsListLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recorded condense runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListRuns(cmd.Context(), runsListLimit)
		if err != nil {
			return err
		}
		return renderView(cmd, output.RunsView(runs))
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	addOutputFlags(runsListCmd)
	runsListCmd.Flags().IntVar(&runsListLimit, "limit", 20, "maximum runs to show")
}
