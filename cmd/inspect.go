package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/inspector"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/sheet"
	"github.com/brensch/tenderscan/internal/source"
)

var (
	inspectCatalog string
	inspectSamples int
)

// inspectCmd explains how documents are read.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Show how documents are detected, opened and matched",
	Long: `Runs each file through format detection and the reader cascade and prints
which reader opened it (or why every reader failed), its sheets with sample
cells and, with --catalog, the matches the document would produce.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ctx := cmd.Context()

		opts := inspector.Options{Samples: inspectSamples}
		if inspectCatalog != "" {
			names, err := source.LoadCatalog(inspectCatalog)
			if err != nil {
				return err
			}
			cfg := getConfig()
			opts.Matcher = matcher.New(logger, matcher.NewCatalog(names), matcher.Options{
				MinScore:   cfg.Match.MinScore,
				MaxMatches: cfg.Match.MaxMatches,
			})
		}

		reader := sheet.NewReader(logger)
		failed := 0
		for _, path := range args {
			rep, err := inspector.Inspect(ctx, logger, reader, path, opts)
			if err != nil {
				logger.Error("Inspection failed", "file", path, "error", err)
				failed++
				continue
			}
			rep.Print(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files could not be inspected", failed, len(args))
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectCatalog, "catalog", "", "Product catalog to match against")
	inspectCmd.Flags().IntVar(&inspectSamples, "samples", 5, "Sample cells shown per sheet")
}
