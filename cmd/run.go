package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brensch/tenderscan/internal/app"
	"github.com/brensch/tenderscan/internal/archive"
	"github.com/brensch/tenderscan/internal/cleanup"
	"github.com/brensch/tenderscan/internal/cloud"
	"github.com/brensch/tenderscan/internal/config"
	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/downloader"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/orchestrator"
	"github.com/brensch/tenderscan/internal/sheet"
	"github.com/brensch/tenderscan/internal/source"
)

var (
	runInputDir string
	runTUI      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process tenders: download, extract, match and store results",
	Long: `Runs the full pipeline for every tender of the run:
1. Tenders come from --manifest (YAML, remote or local documents) or, without
   one, from folders named like 44fz_123 under --input.
2. Each tender is claimed in the result store so concurrent workers never
   process it twice. Finished tenders are skipped unless --reprocess is set.
3. Relevant documents are downloaded, archives unpacked, spreadsheets verified
   and read, and every cell matched against --catalog.
4. The aggregate, its match details and per-file errors are written in one
   go; matched sources are uploaded when cloud storage is configured.
Use --tui for a live view of the workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tenders, err := loadTenders(cfg, runInputDir, logger)
		if err != nil {
			return err
		}
		if len(tenders) == 0 {
			logger.Warn("No tenders to process.")
			return nil
		}
		if !cfg.Reprocess {
			if tenders, err = skipJournaled(ctx, tenders, logger); err != nil {
				return err
			}
			if len(tenders) == 0 {
				logger.Info("Every tender is already persisted according to the journal.")
				return nil
			}
		}
		if sameDir(runInputDir, cfg.WorkDir) && cfg.ManifestPath == "" && !cfg.KeepFiles {
			logger.Warn("Input folder is the work folder, keeping files.", "dir", cfg.WorkDir)
			cfg.KeepFiles = true
		}

		if cfg.WorkerID == "" {
			host, _ := os.Hostname()
			cfg.WorkerID = fmt.Sprintf("%s-%s", firstNonEmpty(host, "worker"), uuid.NewString()[:8])
		}

		coord, err := buildCoordinator(ctx, cfg, logger)
		if err != nil {
			return err
		}

		logger.Info("--- Starting tender run ---", slog.Int("tenders", len(tenders)), slog.Int("workers", cfg.NumWorkers), slog.String("worker_id", cfg.WorkerID))
		var summary orchestrator.Summary
		if runTUI {
			summary, err = app.Run(ctx, logger, len(tenders), func(ctx context.Context, observe orchestrator.Observer) (orchestrator.Summary, error) {
				return coord.WithObserver(observe).Run(ctx, tenders)
			})
		} else {
			summary, err = coord.Run(ctx, tenders)
		}
		printSummary(cmd.OutOrStdout(), summary)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		logger.Info("--- Tender run finished ---",
			slog.Int("succeeded", summary.Succeeded), slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed), slog.Int("locked", summary.Locked))
		return nil
	},
}

func init() {
	d := config.Default()
	f := runCmd.Flags()
	f.StringVar(&runInputDir, "input", "./tenders", "Folder of tender folders (44fz_123, ...) used when no manifest is given")
	f.BoolVar(&runTUI, "tui", false, "Show a live terminal view of the run")
	f.String("manifest", "", "YAML manifest of tenders and their documents")
	f.String("catalog", "", "Product catalog (YAML list or one name per line)")
	f.String("stop-phrases", "", "Phrases that disqualify a cell from matching")
	f.String("worker-id", "", "Identity recorded on locks and results (default: hostname-random)")
	f.Int("file-workers", d.FileWorkers, "Documents processed concurrently inside one tender")
	f.Bool("reprocess", false, "Process tenders that already have a finished result")
	f.Bool("keep-files", false, "Keep work folders after processing")
	f.Float64("min-score", d.Match.MinScore, "Discard matches scoring below this")
	f.String("verify", d.Verify.Mode, "Pre-parse verification: process, inline or off")
	bindFlags(runCmd, map[string]string{
		"manifest":        "manifest",
		"catalog":         "catalog",
		"stop_phrases":    "stop-phrases",
		"worker_id":       "worker-id",
		"file_workers":    "file-workers",
		"reprocess":       "reprocess",
		"keep_files":      "keep-files",
		"match.min_score": "min-score",
		"verify.mode":     "verify",
	})
}

func loadTenders(cfg config.Config, inputDir string, logger *slog.Logger) ([]source.Tender, error) {
	if cfg.ManifestPath != "" {
		tenders, err := source.LoadManifest(cfg.ManifestPath)
		if err != nil {
			if len(tenders) == 0 {
				return nil, err
			}
			logger.Warn("Manifest has invalid entries, continuing with the rest.", "error", err)
		}
		logger.Info("Loaded manifest.", slog.String("path", cfg.ManifestPath), slog.Int("tenders", len(tenders)))
		return tenders, nil
	}
	tenders, err := source.ScanLocal(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input folder: %w", err)
	}
	logger.Info("Scanned input folder.", slog.String("path", inputDir), slog.Int("tenders", len(tenders)))
	return tenders, nil
}

// skipJournaled drops tenders the journal has seen persisted. The result store
// stays the authority: anything the journal misses is still skipped on acquire.
func skipJournaled(ctx context.Context, tenders []source.Tender, logger *slog.Logger) ([]source.Tender, error) {
	conn, err := getJournal()
	if err != nil {
		return nil, err
	}
	persisted, err := db.GetPersistedTenders(ctx, conn, logger)
	if err != nil {
		if persisted == nil {
			return nil, err
		}
		logger.Warn("Journal scan incomplete, filtering with what was read.", "error", err)
	}
	left, dropped := dropPersisted(tenders, persisted)
	if dropped > 0 {
		logger.Info("Skipping tenders persisted by earlier runs.", slog.Int("skipped", dropped), slog.Int("remaining", len(left)))
	}
	return left, nil
}

func dropPersisted(tenders []source.Tender, persisted map[string]bool) ([]source.Tender, int) {
	left := tenders[:0:0]
	for _, t := range tenders {
		if persisted[t.Ref.String()] {
			continue
		}
		left = append(left, t)
	}
	return left, len(tenders) - len(left)
}

// buildCoordinator wires the pipeline's collaborators from cfg.
func buildCoordinator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*orchestrator.Coordinator, error) {
	if cfg.CatalogPath == "" {
		return nil, fmt.Errorf("a product catalog is required (--catalog or catalog in config)")
	}
	names, err := source.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	var stops []string
	if cfg.StopPhrasePath != "" {
		if stops, err = source.LoadStopPhrases(cfg.StopPhrasePath); err != nil {
			return nil, err
		}
	}
	catalog := matcher.NewCatalog(names)
	logger.Info("Catalog loaded.", slog.Int("products", catalog.Len()), slog.Int("stop_phrases", len(stops)))

	extractor := archive.New(logger, archive.Options{Unrar: cfg.Tools.Unrar, SevenZip: cfg.Tools.SevenZip})
	if err := extractor.Check(); err != nil {
		return nil, err
	}

	rs, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	journal, err := getJournal()
	if err != nil {
		return nil, err
	}

	reader := sheet.NewReader(logger)
	verifier, err := newVerifier(cfg.Verify, reader)
	if err != nil {
		return nil, err
	}

	dl := downloader.New(logger, downloader.Options{
		UserAgent:   cfg.Download.UserAgent,
		Concurrency: cfg.Download.Concurrency,
		Timeouts: downloader.TimeoutCalculator{
			Min:            cfg.Download.MinTimeout,
			Max:            cfg.Download.MaxTimeout,
			BytesPerSecond: float64(cfg.Download.BytesPerSecond),
			Speed:          rs,
		},
	})

	deps := orchestrator.Deps{
		Downloader: dl,
		Extractor:  extractor,
		Parser:     reader,
		Matcher: matcher.New(logger, catalog, matcher.Options{
			MinScore:    cfg.Match.MinScore,
			MaxMatches:  cfg.Match.MaxMatches,
			StopPhrases: stops,
		}),
		Verifier: verifier,
		Store:    rs,
		Cleaner:  cleanup.New(cfg.WorkDir, logger),
		Journal:  db.NewJournal(journal, logger),
	}
	if cfg.Verify.MaxMemoryShare > 0 {
		deps.Guard = sheet.NewMemoryGuard(cfg.Verify.MaxMemoryShare)
	}
	if cfg.Cloud.Endpoint != "" {
		storage, err := cloud.New(cfg.Cloud, logger)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			logger.Warn("Cloud bucket unavailable, uploads disabled.", "endpoint", cfg.Cloud.Endpoint, "error", err)
		} else {
			deps.Uploader = storage
		}
	}

	return orchestrator.New(logger, deps, orchestrator.Options{
		WorkerID:       cfg.WorkerID,
		Workers:        cfg.NumWorkers,
		FileWorkers:    cfg.FileWorkers,
		WorkDir:        cfg.WorkDir,
		LockTTL:        cfg.LockTTL,
		Reprocess:      cfg.Reprocess,
		KeepFiles:      cfg.KeepFiles,
		ContextColumns: cfg.Match.ContextColumns,
		Retry:          orchestrator.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
	}), nil
}

func newVerifier(vc config.VerifyConfig, reader *sheet.Reader) (sheet.Verifier, error) {
	switch vc.Mode {
	case "off":
		return nil, nil
	case "inline":
		return sheet.InlineVerifier{Reader: reader, MaxCells: vc.MaxCells, Timeout: vc.Timeout}, nil
	default:
		return sheet.NewProcessVerifier(vc.MaxCells, vc.Timeout)
	}
}

func printSummary(w io.Writer, s orchestrator.Summary) {
	fmt.Fprintf(w, "\n--- Run Summary ---\n")
	fmt.Fprintf(w, "%-16s | %-14s | %-7s | %-5s | %-6s | %-8s | %s\n", "Tender", "Outcome", "Matches", "Tier", "Errors", "Time", "Reason")
	fmt.Fprintf(w, "%s\n", "-----------------------------------------------------------------------------------------")
	for _, r := range s.Reports {
		reason := r.Reason
		if r.Err != nil && reason == "" {
			reason = r.Err.Error()
		}
		fmt.Fprintf(w, "%-16s | %-14s | %-7d | %-5.0f | %-6d | %-8s | %s\n",
			r.Key, r.Outcome, r.Matches, r.Percentage, r.FileErrors, r.Duration.Round(100*time.Millisecond), reason)
	}
	fmt.Fprintf(w, "\nTotal %d: %d succeeded, %d skipped, %d failed, %d locked elsewhere\n", s.Total, s.Succeeded, s.Skipped, s.Failed, s.Locked)
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
