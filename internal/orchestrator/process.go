package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/tenderscan/internal/apperr"
	"github.com/brensch/tenderscan/internal/db"
	"github.com/brensch/tenderscan/internal/downloader"
	"github.com/brensch/tenderscan/internal/matcher"
	"github.com/brensch/tenderscan/internal/source"
	"github.com/brensch/tenderscan/internal/store"
)

// Error reasons stored on the aggregate of a failed run.
const (
	ReasonNotFound       = "documents_not_found"
	ReasonAllFilesFailed = "all_files_failed"
)

// tenderRun is the state of one tender moving through the pipeline.
type tenderRun struct {
	c       *Coordinator
	t       source.Tender
	worker  string
	logger  *slog.Logger
	dir     string
	start   time.Time
	rep     Report
	fileErr []store.FileError

	// lost is set once another worker owns the placeholder.
	lost     atomic.Bool
	stopBeat func()
}

// Process runs one tender end to end. Tender-level failures are reported in
// the Report; the returned error is reserved for conditions that must stop
// the whole run: a configuration error or cancellation of ctx.
func (c *Coordinator) Process(ctx context.Context, worker string, t source.Tender) (Report, error) {
	r := &tenderRun{
		c:      c,
		t:      t,
		worker: worker,
		logger: c.logger.With(slog.String("tender", t.String()), slog.String("worker", worker)),
		dir:    filepath.Join(c.opts.WorkDir, t.String()),
		start:  c.now(),
		rep:    Report{Key: t.Ref, Worker: worker},
	}
	rep, err := r.run(ctx)
	rep.Duration = c.now().Sub(r.start)
	c.observe(Progress{Key: t.String(), Worker: worker, Stage: StageDone, Detail: string(rep.Outcome), Report: &rep})
	return rep, err
}

func (r *tenderRun) run(ctx context.Context) (Report, error) {
	c := r.c
	key := r.t.Ref

	r.stage(StageAcquiring, "")
	ok, err := retry(ctx, c.opts.Retry, r.logger, "acquire", func(ctx context.Context) (bool, error) {
		return c.deps.Store.Acquire(ctx, key, r.worker, c.opts.LockTTL, c.opts.Reprocess)
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.rep, ctx.Err()
		}
		r.logger.Error("Failed to acquire tender.", "error", err)
		return r.done(OutcomeFailed, "acquire failed", err), nil
	}
	if !ok {
		return r.notAcquired(ctx), nil
	}
	r.record(ctx, db.EventAcquired, "", "", 0)
	r.logger.Info("Acquired tender.")
	var once sync.Once
	stop := r.keepAlive(ctx)
	r.stopBeat = func() { once.Do(stop) }
	defer r.stopBeat()

	// Download.
	r.stage(StageDownloading, "")
	r.record(ctx, db.EventDownloadStart, "", "", 0)
	dlStart := c.now()
	res, err := retry(ctx, c.opts.Retry, r.logger, "download", func(ctx context.Context) (downloader.Result, error) {
		return c.deps.Downloader.Download(ctx, r.t, r.dir)
	})
	if err != nil {
		return r.downloadFailed(ctx, res, err)
	}
	r.rep.Bytes = res.Bytes
	for _, m := range res.Missing {
		r.addFileError(m.Document.FileName(), firstNonEmpty(m.Document.URL, m.Document.Path), m.Document.Size, m.Err)
	}
	r.record(ctx, db.EventDownloadEnd, "", fmt.Sprintf("%d files, %d bytes", len(res.Paths), res.Bytes), c.now().Sub(dlStart))
	if len(res.Paths) == 0 {
		return r.noDocuments(ctx)
	}

	// Extract.
	r.stage(StageExtracting, fmt.Sprintf("%d files", len(res.Paths)))
	docs, failures, err := c.deps.Extractor.Collect(ctx, res.Paths, filepath.Join(r.dir, "extracted"))
	if err != nil {
		r.release(ctx)
		if ctx.Err() != nil {
			return r.rep, ctx.Err()
		}
		r.record(ctx, db.EventError, "", err.Error(), 0)
		if apperr.Is(err, apperr.KindConfiguration) {
			r.logger.Error("Extraction is misconfigured, stopping.", "error", err)
			return r.done(OutcomeFailed, "configuration", err), err
		}
		return r.done(OutcomeFailed, "extract failed", err), nil
	}
	for _, f := range failures {
		r.addFileError(filepath.Base(f.Path), f.Path, fileSize(f.Path), f.Err)
		r.record(ctx, db.EventError, filepath.Base(f.Path), f.Err.Error(), 0)
	}
	r.record(ctx, db.EventExtractEnd, "", fmt.Sprintf("%d documents, %d archive failures", len(docs), len(failures)), 0)
	if len(docs) == 0 {
		if len(r.fileErr) > 0 {
			return r.allFilesFailed(ctx)
		}
		return r.noDocuments(ctx)
	}

	// Verify, parse and match.
	r.stage(StageMatching, fmt.Sprintf("%d documents", len(docs)))
	lists, failed, err := r.matchDocuments(ctx, docs)
	if err != nil {
		r.release(ctx)
		return r.rep, err
	}
	r.rep.Documents = len(docs)
	if failed == len(docs) {
		return r.allFilesFailed(ctx)
	}
	matches := c.deps.Matcher.Merge(lists...)
	r.attachContext(matches, docs)
	r.record(ctx, db.EventParseEnd, "", fmt.Sprintf("%d documents, %d matches, %d file errors", len(docs), len(matches), len(r.fileErr)), 0)

	// Persist.
	r.stage(StagePersisting, "")
	result := store.Result{
		Key:             key,
		MatchCount:      len(matches),
		MatchPercentage: matcher.Percentage(matches),
		ProcessingTime:  c.now().Sub(r.start),
		TotalFiles:      len(docs),
		TotalSizeBytes:  res.Bytes,
		HasError:        len(r.fileErr) > 0,
		FolderName:      key.String(),
		WorkerID:        r.worker,
	}
	id, err := r.save(ctx, result)
	if err != nil {
		return r.rep, err
	}
	if id == 0 {
		return r.notSaved(), nil
	}
	if err := c.deps.Store.ReplaceDetails(ctx, id, toDetails(matches)); err != nil {
		r.logger.Error("Failed to store match details.", "error", err)
		r.record(ctx, db.EventError, "", "details: "+err.Error(), 0)
	}
	if err := c.deps.Store.ReplaceFileErrors(ctx, id, r.fileErr); err != nil {
		r.logger.Error("Failed to store file errors.", "error", err)
		r.record(ctx, db.EventError, "", "file errors: "+err.Error(), 0)
	}
	r.rep.Matches = len(matches)
	r.rep.Percentage = result.MatchPercentage
	r.rep.FileErrors = len(r.fileErr)
	r.record(ctx, db.EventPersisted, "", fmt.Sprintf("%d matches, %.0f%%", len(matches), result.MatchPercentage), result.ProcessingTime)
	r.logger.Info("Tender processed.",
		slog.Int("documents", len(docs)),
		slog.Int("matches", len(matches)),
		slog.Float64("percentage", result.MatchPercentage),
		slog.Int("file_errors", len(r.fileErr)),
	)

	r.upload(ctx, matches, docs)
	r.cleanup(ctx, false)
	return r.done(OutcomeSucceeded, "", nil), nil
}

// notAcquired tells a finished tender (skip) from one another worker holds.
func (r *tenderRun) notAcquired(ctx context.Context) Report {
	row, err := r.c.deps.Store.Get(ctx, r.t.Ref)
	if err == nil && !row.Processing() {
		r.logger.Info("Tender already processed, skipping.")
		r.record(ctx, db.EventSkip, "", "already processed", 0)
		return r.done(OutcomeSkipped, "already processed", nil)
	}
	holder := row.WorkerID
	if err != nil {
		holder = "unknown"
	}
	r.logger.Info("Tender is being processed by another worker.", "holder", holder)
	r.record(ctx, db.EventLocked, "", "held by "+holder, 0)
	return r.done(OutcomeLocked, "held by "+holder, nil)
}

func (r *tenderRun) downloadFailed(ctx context.Context, res downloader.Result, err error) (Report, error) {
	if ctx.Err() != nil {
		r.release(ctx)
		return r.rep, ctx.Err()
	}
	r.record(ctx, db.EventError, "", "download: "+err.Error(), 0)
	switch apperr.KindOf(err) {
	case apperr.KindConfiguration:
		r.release(ctx)
		r.logger.Error("Download is misconfigured, stopping.", "error", err)
		return r.done(OutcomeFailed, "configuration", err), err
	case apperr.KindNotFound:
		r.logger.Warn("Tender documents are gone.", "error", err)
		for _, m := range res.Missing {
			r.addFileError(m.Document.FileName(), firstNonEmpty(m.Document.URL, m.Document.Path), m.Document.Size, m.Err)
		}
		id, serr := r.finalizeError(ctx, ReasonNotFound)
		if serr != nil {
			return r.rep, serr
		}
		if id == 0 {
			return r.notSaved(), nil
		}
		r.cleanup(ctx, true)
		return r.done(OutcomeFailed, ReasonNotFound, err), nil
	default:
		r.logger.Error("Download failed, releasing tender for a later run.", "error", err)
		r.release(ctx)
		r.cleanup(ctx, true)
		return r.done(OutcomeFailed, "download failed", err), nil
	}
}

// noDocuments finalizes a tender that had nothing to read.
func (r *tenderRun) noDocuments(ctx context.Context) (Report, error) {
	r.logger.Info("No documents to process.")
	res := store.Result{
		Key:            r.t.Ref,
		ProcessingTime: r.c.now().Sub(r.start),
		ErrorReason:    store.ReasonNoDocuments,
		FolderName:     r.t.String(),
		WorkerID:       r.worker,
	}
	id, err := r.save(ctx, res)
	if err != nil {
		return r.rep, err
	}
	if id == 0 {
		return r.notSaved(), nil
	}
	r.record(ctx, db.EventSkip, "", store.ReasonNoDocuments, 0)
	r.cleanup(ctx, false)
	return r.done(OutcomeSkipped, store.ReasonNoDocuments, nil), nil
}

// allFilesFailed finalizes a tender none of whose documents could be read.
func (r *tenderRun) allFilesFailed(ctx context.Context) (Report, error) {
	r.logger.Warn("No document could be processed.", "file_errors", len(r.fileErr))
	id, err := r.finalizeError(ctx, ReasonAllFilesFailed)
	if err != nil {
		return r.rep, err
	}
	if id == 0 {
		return r.notSaved(), nil
	}
	r.cleanup(ctx, true)
	return r.done(OutcomeFailed, ReasonAllFilesFailed, nil), nil
}

// finalizeError stores an error aggregate and the file errors gathered so
// far. Details of earlier runs are left alone.
func (r *tenderRun) finalizeError(ctx context.Context, reason string) (int64, error) {
	res := store.Result{
		Key:            r.t.Ref,
		ProcessingTime: r.c.now().Sub(r.start),
		TotalSizeBytes: r.rep.Bytes,
		ErrorReason:    reason,
		HasError:       true,
		FolderName:     r.t.String(),
		WorkerID:       r.worker,
	}
	id, err := r.save(ctx, res)
	if err != nil || id == 0 {
		return id, err
	}
	if err := r.c.deps.Store.ReplaceFileErrors(ctx, id, r.fileErr); err != nil {
		r.logger.Error("Failed to store file errors.", "error", err)
	}
	r.rep.FileErrors = len(r.fileErr)
	r.record(ctx, db.EventPersisted, "", reason, 0)
	return id, nil
}

// save writes the aggregate with retries. A failure releases the tender and
// yields id 0; only cancellation is returned as an error. A lost lock also
// yields id 0 and leaves the row to its new owner.
func (r *tenderRun) save(ctx context.Context, res store.Result) (int64, error) {
	if r.stopBeat != nil {
		r.stopBeat()
	}
	if r.lost.Load() {
		r.lockLost(ctx)
		return 0, nil
	}
	id, err := retry(ctx, r.c.opts.Retry, r.logger, "save", func(ctx context.Context) (int64, error) {
		return r.c.deps.Store.SaveResult(ctx, res)
	})
	if err == nil {
		return id, nil
	}
	if errors.Is(err, store.ErrLockLost) {
		r.lost.Store(true)
		r.lockLost(ctx)
		return 0, nil
	}
	r.release(ctx)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	r.logger.Error("Failed to save result.", "error", err)
	r.record(ctx, db.EventError, "", "save: "+err.Error(), 0)
	r.rep.Err = err
	return 0, nil
}

func (r *tenderRun) lockLost(ctx context.Context) {
	r.logger.Warn("Tender lock was taken over by another worker, discarding results.")
	r.record(ctx, db.EventLocked, "", "lock lost before save", 0)
}

// notSaved reports a tender whose aggregate could not be written. After a
// lost lock the work folder belongs to the new owner and is left alone.
func (r *tenderRun) notSaved() Report {
	if r.lost.Load() {
		return r.done(OutcomeLocked, "lock lost", nil)
	}
	return r.done(OutcomeFailed, "persist failed", nil)
}

// keepAlive refreshes the placeholder every Options.Heartbeat until the
// returned stop is called. A refresh that finds the placeholder gone or
// owned by another worker marks the run as lost.
func (r *tenderRun) keepAlive(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.c.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			alive, err := r.c.deps.Store.Heartbeat(ctx, r.t.Ref, r.worker)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("Failed to refresh tender lock.", "error", err)
				}
				continue
			}
			if !alive {
				r.lost.Store(true)
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// release drops the placeholder so a later run can retry the tender. It runs
// even when ctx is cancelled.
func (r *tenderRun) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.c.deps.Store.Release(ctx, r.t.Ref, r.worker); err != nil {
		r.logger.Error("Failed to release tender.", "error", err)
		return
	}
	r.record(ctx, db.EventReleased, "", "", 0)
}

func (r *tenderRun) upload(ctx context.Context, matches []matcher.Match, docs []string) {
	if r.c.deps.Uploader == nil || len(matches) == 0 {
		return
	}
	byName := r.docsByName(docs)
	seen := make(map[string]bool)
	var files []string
	for _, m := range matches {
		p, ok := byName[m.SourceFile]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		files = append(files, p)
	}
	r.stage(StageUploading, fmt.Sprintf("%d files", len(files)))
	if err := r.c.deps.Uploader.Upload(ctx, r.t.Ref, files); err != nil {
		r.logger.Warn("Failed to upload matched files.", "error", err)
		r.record(ctx, db.EventError, "", "upload: "+err.Error(), 0)
		return
	}
	r.record(ctx, db.EventUploaded, "", fmt.Sprintf("%d files", len(files)), 0)
}

func (r *tenderRun) cleanup(ctx context.Context, failed bool) {
	if r.c.deps.Cleaner == nil {
		return
	}
	if err := r.c.deps.Cleaner.Clean(context.WithoutCancel(ctx), r.dir, failed || r.c.opts.KeepFiles); err != nil {
		r.logger.Warn("Failed to clean work folder.", "dir", r.dir, "error", err)
	}
}

func (r *tenderRun) done(outcome Outcome, reason string, err error) Report {
	r.rep.Outcome = outcome
	r.rep.Reason = reason
	if err != nil {
		r.rep.Err = err
	}
	return r.rep
}

func (r *tenderRun) stage(stage, detail string) {
	r.c.observe(Progress{Key: r.t.String(), Worker: r.worker, Stage: stage, Detail: detail})
}

func (r *tenderRun) record(ctx context.Context, event, file, msg string, d time.Duration) {
	if r.c.deps.Journal == nil {
		return
	}
	r.c.deps.Journal.Record(context.WithoutCancel(ctx), db.Event{
		Tender:   r.t.String(),
		Event:    event,
		WorkerID: r.worker,
		File:     file,
		Message:  msg,
		Duration: d,
	})
}

func (r *tenderRun) addFileError(name, path string, size int64, err error) {
	r.fileErr = append(r.fileErr, store.FileError{
		FileName:      name,
		FilePath:      path,
		ErrorMessage:  truncate(err.Error(), 1000),
		ErrorType:     apperr.FileErrorType(err),
		FileSizeBytes: size,
	})
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
