package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve addresses for a batch of records",
	Long:  "Read records from a CSV (columns: id, address), resolve each address through the cache, and write the enriched records out. Records that fail on a provider error are marked for re-run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		actor, _ := cmd.Flags().GetString("actor")

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		in, err := os.Open(input)
		if err != nil {
			return eris.Wrapf(err, "batch: open %s", input)
		}
		defer in.Close() //nolint:errcheck

		records, err := readRecords(in)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolver, err := buildResolver(st)
		if err != nil {
			return err
		}
		batcher := geocode.NewBatchResolver(resolver, geocode.WithConcurrency(concurrency))

		bar := progressbar.NewOptions(len(records),
			progressbar.OptionSetDescription("Resolving addresses"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		resolved, summary := batcher.ResolveAll(ctx, records, actor, func(done, _ int, msg string) {
			_ = bar.Set(done)
			bar.Describe(msg)
		})
		_ = bar.Finish()

		out, err := os.Create(output)
		if err != nil {
			return eris.Wrapf(err, "batch: create %s", output)
		}
		defer out.Close() //nolint:errcheck

		if err := writeRecords(out, resolved); err != nil {
			return err
		}

		fmt.Printf("=== Batch Summary ===\n")
		fmt.Printf("Total records:   %d\n", summary.Total)
		fmt.Printf("Resolved:        %d\n", summary.Resolved)
		fmt.Printf("Not found:       %d\n", summary.NotFound)
		fmt.Printf("Skipped (empty): %d\n", summary.Skipped)
		fmt.Printf("Failed:          %d\n", summary.Failed)
		fmt.Printf("API calls:       %d\n", summary.Session.APICallsMade)
		fmt.Printf("Cache hits:      %d (%.1f%%)\n", summary.Session.CacheHits, summary.Session.CacheHitRate)
		fmt.Printf("Estimated cost:  $%.2f\n", summary.Session.EstimatedCost)
		if summary.Failed > 0 {
			fmt.Printf("\n%d records failed on provider errors; re-run the batch to retry them.\n", summary.Failed)
		}
		return nil
	},
}

// readRecords parses id/address rows. A header row is detected by an
// "address" column name and skipped.
func readRecords(r io.Reader) ([]geocode.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var records []geocode.Record
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "batch: read csv")
		}
		line++

		if line == 1 && len(row) >= 2 && row[1] == "address" {
			continue
		}
		if len(row) == 0 {
			continue
		}

		rec := geocode.Record{ID: row[0]}
		if len(row) >= 2 {
			rec.Address = row[1]
		}
		records = append(records, rec)
	}
}

// writeRecords writes enriched rows: the input columns plus the structured
// geocoding fields. Unresolved records keep those columns empty.
func writeRecords(w io.Writer, resolved []geocode.ResolvedRecord) error {
	writer := csv.NewWriter(w)

	header := []string{
		"id", "address", "status", "formatted_address",
		"street_number", "street_name", "suburb", "state", "postcode", "country",
		"lat", "lng", "partial_match",
	}
	if err := writer.Write(header); err != nil {
		return eris.Wrap(err, "batch: write csv header")
	}

	for _, rr := range resolved {
		row := []string{rr.ID, rr.Address, string(rr.Status)}
		if rr.Result != nil && rr.Result.Valid {
			row = append(row,
				rr.Result.FormattedAddress,
				rr.Result.StreetNumber, rr.Result.StreetName,
				rr.Result.Suburb, rr.Result.State, rr.Result.Postcode, rr.Result.Country,
				strconv.FormatFloat(*rr.Result.Latitude, 'f', -1, 64),
				strconv.FormatFloat(*rr.Result.Longitude, 'f', -1, 64),
				strconv.FormatBool(rr.Result.PartialMatch),
			)
		} else {
			row = append(row, "", "", "", "", "", "", "", "", "", "")
		}
		if err := writer.Write(row); err != nil {
			return eris.Wrap(err, "batch: write csv row")
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "batch: flush csv")
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().String("input", "", "Input CSV path (columns: id, address)")
	batchCmd.Flags().String("output", "resolved.csv", "Output CSV path")
	batchCmd.Flags().String("actor", "cli", "Actor recorded against cache writes")
	batchCmd.Flags().Int("concurrency", 0, "Parallel resolutions (default from config)")
	_ = batchCmd.MarkFlagRequired("input")
}
