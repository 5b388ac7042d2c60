package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/analyser"
)

var analyseTop int

// analyseCmd summarises exported match details with DuckDB.
var analyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Summarise exported match details using DuckDB",
	Long: `Reads the match details Parquet written by 'export' from --output-dir with an
in-memory DuckDB and prints totals by score tier, the most frequently matched
products and the best-matching tenders.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		logger.Info("Starting DuckDB analysis...", "dir", cfg.OutputDir)
		conn, err := sql.Open("duckdb", "")
		if err != nil {
			return fmt.Errorf("failed to open in-memory duckdb: %w", err)
		}
		defer conn.Close()

		summary, err := analyser.Analyse(cmd.Context(), conn, cfg.OutputDir, analyseTop, logger)
		if err != nil {
			logger.Error("Analysis completed with errors", "error", err)
			return fmt.Errorf("analysis failed: %w", err)
		}
		summary.Print(cmd.OutOrStdout())
		logger.Info("DuckDB analysis completed successfully.")
		return nil
	},
}

func init() {
	analyseCmd.Flags().IntVar(&analyseTop, "top", 10, "Number of products and tenders listed")
}
