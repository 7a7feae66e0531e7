package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

var cacheInvalidCmd = &cobra.Command{
	Use:   "invalid",
	Short: "List addresses that failed to resolve",
	Long:  "List cached addresses the provider could not resolve, for operator review and possible manual recheck.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := geocode.NewCache(st).InvalidEntries(ctx, limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("no invalid addresses")
			return nil
		}

		fmt.Printf("%-50s %-20s %s\n", "Address", "Geocoded", "Uses")
		for _, e := range entries {
			fmt.Printf("%-50s %-20s %d\n", e.Address, e.GeocodedAt.Format("2006-01-02 15:04"), e.UsageCount)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheInvalidCmd)
	cacheInvalidCmd.Flags().Int("limit", 100, "Maximum entries to list")
}
