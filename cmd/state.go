package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/app"
	"github.com/brensch/tenderscan/internal/db"
)

var (
	stateLimit       int
	stateTender      string
	stateFilterEvent string
	stateEventsOnly  bool
)

// stateCmd shows stored results and the journal.
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View recent tender results and the event journal",
	Long: `Lists the most recently updated tender results from the result store,
including placeholders of tenders still being processed, followed by the
DuckDB event journal. Filter the journal with --tender and --event.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if !stateEventsOnly && stateTender == "" {
			rs, err := getStore(ctx)
			if err != nil {
				return err
			}
			rows, err := rs.Recent(ctx, stateLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, app.RenderResults(rows))
		}

		conn, err := getJournal()
		if err != nil {
			return err
		}
		if stateTender != "" {
			if err := printTenderStatus(ctx, conn, out, stateTender); err != nil {
				return err
			}
		}
		logger.Info("Querying event journal", "tender", stateTender, "event_filter", stateFilterEvent, "limit", stateLimit)
		if err := db.DisplayTenderHistory(ctx, conn, out, stateTender, stateFilterEvent, stateLimit); err != nil {
			logger.Error("Failed to display tender history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of records displayed")
	stateCmd.Flags().StringVarP(&stateTender, "tender", "t", "", "Show journal events of one tender (e.g. 44fz_123)")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter journal records by event type (e.g. download_end, error)")
	stateCmd.Flags().BoolVar(&stateEventsOnly, "events", false, "Show only the journal")
}

// printTenderStatus writes the tender's latest journal event and whether it
// was ever persisted.
func printTenderStatus(ctx context.Context, conn *sql.DB, w io.Writer, tender string) error {
	event, at, msg, found, err := db.GetLatestTenderEvent(ctx, conn, tender)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "Tender %s: no journal events\n\n", tender)
		return nil
	}
	persisted, err := db.HasEventOccurred(ctx, conn, tender, db.EventPersisted)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Tender %s: last event %s at %s", tender, event, at.Local().Format(time.DateTime))
	if msg != "" {
		fmt.Fprintf(w, " (%s)", msg)
	}
	fmt.Fprintf(w, "\nPersisted: %t\n\n", persisted)
	return nil
}
