package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brensch/tenderscan/internal/config"
	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/store"
)

var (
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	v = viper.New()

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	appConfig  config.Config
	logFile    *os.File

	// Opened on first use.
	journalConn *sql.DB
	resultStore *store.Store
)

var rootCmd = &cobra.Command{
	Use:   "tenderscan",
	Short: "Download tender documents, match them against a product catalog and store the results.",
	Long: `tenderscan fetches the documents of public tenders, unpacks archives, reads
every spreadsheet it finds (falling back across readers when a file lies about
its format) and matches cell text against a product catalog. Per-tender results
go to a SQL store shared by all workers; a DuckDB journal records what happened.

The primary command is 'run'. 'state' shows recent results and journal events,
'inspect' explains how a single document is read, 'export' and 'analyse' work on
stored matches offline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == verifyFileCmd {
			// The child side of isolated verification reports only through
			// its exit status and stderr.
			rootLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return nil
		}

		// --- 1. Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch out := strings.ToLower(logOutput); out {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logFile = f
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Config: flags > env (.env) > file > defaults ---
		var err error
		appConfig, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		rootLogger.Debug("Configuration loaded", slog.String("store", redactDSN(appConfig.StoreDSN)), slog.String("journal", appConfig.JournalPath))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyFileCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(locksCmd)

	err := rootCmd.Execute()
	if err != nil {
		closeResources()
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	d := config.Default()
	pf.String("work-dir", d.WorkDir, "Directory for per-tender work folders")
	pf.String("output-dir", d.OutputDir, "Directory for exports")
	pf.String("store-dsn", d.StoreDSN, "Result store: postgres:// URL or SQLite file path")
	pf.String("journal", d.JournalPath, "Path to the DuckDB run journal (:memory: for in-memory)")
	pf.IntP("workers", "w", d.NumWorkers, "Number of tenders processed concurrently")
	bindFlags(rootCmd, map[string]string{
		"work_dir":     "work-dir",
		"output_dir":   "output-dir",
		"store_dsn":    "store-dsn",
		"journal_path": "journal",
		"workers":      "workers",
	})

	rootCmd.Version = "0.3.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getConfig() config.Config {
	return appConfig
}

// getJournal opens the DuckDB journal and ensures its schema.
func getJournal() (*sql.DB, error) {
	if journalConn != nil {
		return journalConn, nil
	}
	path := appConfig.JournalPath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory for %s: %w", path, err)
		}
	} else {
		path = ""
	}
	logger := getLogger()
	logger.Debug("Initializing DuckDB journal", "path", appConfig.JournalPath)
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb journal (%s): %w", appConfig.JournalPath, err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb journal (%s): %w", appConfig.JournalPath, err)
	}
	if err := db.InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	journalConn = conn
	return conn, nil
}

// getStore opens the result store and migrates it.
func getStore(ctx context.Context) (*store.Store, error) {
	if resultStore != nil {
		return resultStore, nil
	}
	s, err := store.Open(ctx, appConfig.StoreDSN, getLogger(), store.WithLockTTL(appConfig.LockTTL))
	if err != nil {
		return nil, err
	}
	resultStore = s
	return s, nil
}

func closeResources() {
	logger := getLogger()
	if resultStore != nil {
		if err := resultStore.Close(); err != nil {
			logger.Error("Failed to close result store cleanly", "error", err)
		}
		resultStore = nil
	}
	if journalConn != nil {
		logger.Debug("Closing DuckDB journal.")
		if err := journalConn.Close(); err != nil {
			logger.Error("Failed to close DuckDB journal cleanly", "error", err)
		}
		journalConn = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// bindFlags binds config keys to flags of cmd on v. Unset flags fall through
// to env, file and defaults.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.IndexByte(creds, ':'); i >= 0 {
		creds = creds[:i] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
