package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached addresses",
	Long:  "Delete cache entries last used before the cutoff, or the entire cache when no cutoff is given. Purged addresses will be re-geocoded (and billed) on next use.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThanDays, _ := cmd.Flags().GetInt("older-than-days")
		yes, _ := cmd.Flags().GetBool("yes")

		if olderThanDays <= 0 && !yes {
			return fmt.Errorf("purging the entire cache requires --yes")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		count, err := geocode.NewCache(st).Purge(ctx, olderThanDays)
		if err != nil {
			return err
		}

		fmt.Printf("purged %d cached addresses\n", count)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	cachePurgeCmd.Flags().Int("older-than-days", 0, "Only purge entries last used more than this many days ago")
	cachePurgeCmd.Flags().Bool("yes", false, "Confirm purging the entire cache")
}
