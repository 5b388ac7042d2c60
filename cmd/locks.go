package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/cleanup"
)

var sweepAge time.Duration

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Maintain tender locks and work folders",
}

// locksCleanupCmd recovers from workers that died mid-tender.
var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired locks, stale placeholders and orphaned work folders",
	Long: `Deletes lock rows past their expiry and result placeholders older than
lock_ttl, so their tenders can be claimed again, then removes tender work
folders under --work-dir untouched for longer than --older-than.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		ctx := cmd.Context()

		rs, err := getStore(ctx)
		if err != nil {
			return err
		}
		locks, err := rs.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		placeholders, err := rs.CleanupStalePlaceholders(ctx, cfg.LockTTL)
		if err != nil {
			return err
		}
		folders, err := cleanup.New(cfg.WorkDir, logger).Sweep(ctx, sweepAge)
		if err != nil {
			return fmt.Errorf("failed to sweep work folders: %w", err)
		}
		logger.Info("Cleanup complete.", slog.Int64("locks", locks), slog.Int64("placeholders", placeholders), slog.Int("folders", folders))
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired locks, %d stale placeholders, %d work folders\n", locks, placeholders, folders)
		return nil
	},
}

func init() {
	locksCleanupCmd.Flags().DurationVar(&sweepAge, "older-than", 24*time.Hour, "Minimum age of work folders to remove")
	locksCmd.AddCommand(locksCleanupCmd)
}
