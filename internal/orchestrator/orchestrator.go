// Package orchestrator drives tenders through download, extraction, matching
// and persistence with a bounded pool of workers.
package orchestrator

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/brensch/tenderscan/internal/archive"
	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/downloader"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/sheet"
	"github.com/brensch/tenderscan/internal/source"
	"github.com/brensch/tenderscan/internal/store"
	"github.com/brensch/tenderscan/internal/tender"
)

// Downloader fetches a tender's documents into a folder.
type Downloader interface {
	Download(ctx context.Context, t source.Tender, dir string) (downloader.Result, error)
}

// Extractor expands downloaded files into spreadsheet documents.
type Extractor interface {
	Collect(ctx context.Context, paths []string, dest string) ([]string, []archive.Failure, error)
}

// Parser streams a document's cells and re-reads rows for context.
type Parser interface {
	Cells(ctx context.Context, path string) iter.Seq2[sheet.Cell, error]
	RowContext(path, sheetName string, row int, column string, contextCols int) (sheet.RowContext, error)
}

// Matcher scores cells against the catalog.
type Matcher interface {
	MatchCells(ctx context.Context, source string, cells iter.Seq2[sheet.Cell, error]) ([]matcher.Match, error)
	Merge(lists ...[]matcher.Match) []matcher.Match
}

// Guard rejects documents too large to parse right now.
type Guard interface {
	Check(path string) error
}

// Store persists results and arbitrates which worker owns a tender.
type Store interface {
	Acquire(ctx context.Context, key tender.Ref, workerID string, ttl time.Duration, reprocess bool) (bool, error)
	Release(ctx context.Context, key tender.Ref, workerID string) error
	Heartbeat(ctx context.Context, key tender.Ref, workerID string) (bool, error)
	Get(ctx context.Context, key tender.Ref) (store.MatchResult, error)
	SaveResult(ctx context.Context, r store.Result) (int64, error)
	ReplaceDetails(ctx context.Context, matchID int64, details []store.MatchDetail) error
	ReplaceFileErrors(ctx context.Context, matchID int64, errs []store.FileError) error
}

// Uploader copies matched source files to long-term storage.
type Uploader interface {
	Upload(ctx context.Context, ref tender.Ref, files []string) error
}

// Cleaner removes a tender's work folder.
type Cleaner interface {
	Clean(ctx context.Context, dir string, keep bool) error
}

// Journal records per-tender events. Implementations must not fail the caller.
type Journal interface {
	Record(ctx context.Context, e db.Event)
}

// Deps are the collaborators of a Coordinator. Verifier, Guard, Uploader,
// Cleaner and Journal are optional.
type Deps struct {
	Downloader Downloader
	Extractor  Extractor
	Parser     Parser
	Matcher    Matcher
	Verifier   sheet.Verifier
	Guard      Guard
	Store      Store
	Uploader   Uploader
	Cleaner    Cleaner
	Journal    Journal
}

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	WorkerID       string
	Workers        int
	FileWorkers    int
	WorkDir        string
	LockTTL        time.Duration
	// Heartbeat is how often a held placeholder is refreshed. Default LockTTL/3.
	Heartbeat      time.Duration
	Reprocess      bool
	KeepFiles      bool
	ContextColumns int
	Retry          RetryPolicy
	Observer       Observer
}

// Coordinator runs the per-tender pipeline.
type Coordinator struct {
	logger *slog.Logger
	deps   Deps
	opts   Options
	now    func() time.Time
}

func New(logger *slog.Logger, deps Deps, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FileWorkers < 1 {
		opts.FileWorkers = 2
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "work"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = store.DefaultLockTTL
	}
	if opts.Heartbeat <= 0 || opts.Heartbeat >= opts.LockTTL {
		opts.Heartbeat = opts.LockTTL / 3
	}
	if opts.ContextColumns <= 0 {
		opts.ContextColumns = 3
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker"
	}
	opts.Retry = opts.Retry.withDefaults()
	return &Coordinator{logger: logger, deps: deps, opts: opts, now: time.Now}
}
