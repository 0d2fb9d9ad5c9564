package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/novelcondense/novelcondense/internal/output"
)

var (
	cacheListLimit  int
	cacheClearAll   bool
	cacheClearOlder time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the condensation cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached condensations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListCondensed(cmd.Context(), cacheListLimit)
		if err != nil {
			return err
		}
		return renderView(cmd, output.CacheView(entries))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached condensations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cacheClearAll && cacheClearOlder <= 0 {
			return fmt.Errorf("pass --all or --older-than")
		}
		db, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		var cutoff time.Time
		if !cacheClearAll {
			cutoff = time.Now().Add(-cacheClearOlder)
		}
		n, err := db.ClearCondensed(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached condensation(s)\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	addOutputFlags(cacheListCmd)
	cacheListCmd.Flags().IntVar(&cacheListLimit, "limit", 50, "maximum entries to show")
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "delete every entry")
	cacheClearCmd.Flags().DurationVar(&cacheClearOlder, "older-than", 0, "delete entries older than this (e.g. 720h)")
}
