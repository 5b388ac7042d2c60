package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/export"
)

var (
	exportInteresting bool
	exportJournal     bool
)

// exportCmd writes stored matches (and optionally the journal) to Parquet.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export match details and the event journal to Parquet",
	Long: `Streams every stored match detail, joined with its tender aggregate, into
` + export.DetailsFile + ` under --output-dir. With --journal the DuckDB event
journal is copied to ` + export.JournalFile + ` as well. The files are the input
of 'analyse'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		ctx := cmd.Context()

		rs, err := getStore(ctx)
		if err != nil {
			return err
		}
		logger.Info("--- Starting export ---", slog.String("dir", cfg.OutputDir), slog.Bool("interesting_only", exportInteresting))
		path, n, err := export.Details(ctx, rs, cfg.OutputDir, exportInteresting, logger)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d match details to %s\n", n, path)

		if exportJournal {
			conn, err := getJournal()
			if err != nil {
				return err
			}
			jpath, err := export.Journal(ctx, conn, cfg.OutputDir, logger)
			if err != nil {
				return fmt.Errorf("journal export failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote event journal to %s\n", jpath)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportInteresting, "interesting", false, "Export only details of interesting tenders")
	exportCmd.Flags().BoolVar(&exportJournal, "journal", false, "Also export the event journal")
}
