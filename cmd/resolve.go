package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve ADDRESS",
	Short: "Resolve a single address",
	Long:  "Resolve one free-text address to a structured location, using the cache unless --force is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolver, err := buildResolver(st)
		if err != nil {
			return err
		}

		actor, _ := cmd.Flags().GetString("actor")
		force, _ := cmd.Flags().GetBool("force")

		result, err := resolver.Resolve(ctx, args[0], actor, force)
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Println("no address to resolve")
			return nil
		}

		if result.Valid {
			fmt.Printf("Formatted:  %s\n", result.FormattedAddress)
			fmt.Printf("Street:     %s %s\n", result.StreetNumber, result.StreetName)
			fmt.Printf("Suburb:     %s\n", result.Suburb)
			fmt.Printf("State:      %s\n", result.State)
			fmt.Printf("Postcode:   %s\n", result.Postcode)
			fmt.Printf("Country:    %s\n", result.Country)
			fmt.Printf("Location:   %f, %f\n", *result.Latitude, *result.Longitude)
			if result.PartialMatch {
				fmt.Println("Partial match: the interpretation is low confidence")
			}
		} else {
			fmt.Printf("Unresolved: %s (%s)\n", result.FormattedAddress, result.ErrorReason)
		}

		s := resolver.Stats()
		fmt.Printf("\nSession: %d api calls, %d cache hits, est. cost $%.3f\n",
			s.APICallsMade, s.CacheHits, s.EstimatedCost)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("actor", "cli", "Actor recorded against cache writes")
	resolveCmd.Flags().Bool("force", false, "Bypass the cache and re-geocode, overwriting the stored result")
}
