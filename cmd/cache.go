package main

import "github.com/spf13/cobra"

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the address cache",
	Long:  "Statistics, invalid-address review, and purging for the persistent geocoding cache.",
}

func init() { rootCmd.AddCommand(cacheCmd) }
