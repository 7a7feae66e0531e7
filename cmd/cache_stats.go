package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show address cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := geocode.NewCache(st).Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Println("=== Address Cache ===")
		fmt.Printf("Total addresses:    %d\n", stats.Total)
		fmt.Printf("Valid:              %d\n", stats.Valid)
		fmt.Printf("Invalid:            %d\n", stats.Invalid)
		fmt.Printf("Partial matches:    %d\n", stats.PartialMatches)
		fmt.Printf("Manual overrides:   %d\n", stats.ManualOverrides)
		fmt.Printf("Total usage:        %d\n", stats.TotalUsage)
		fmt.Printf("Deduplication rate: %.1f%%\n", stats.DeduplicationRate)
		return nil
	},
}

func init() { cacheCmd.AddCommand(cacheStatsCmd) }
