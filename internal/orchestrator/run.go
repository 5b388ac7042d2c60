package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brensch/tenderscan/internal/source"
)

// Run processes tenders with Options.Workers concurrent workers and returns
// the outcome counts. Tender failures are part of the Summary; the returned
// error is non-nil only when the run stopped early, on a configuration error
// or cancellation of ctx.
func (c *Coordinator) Run(ctx context.Context, tenders []source.Tender) (Summary, error) {
	logger := c.logger
	logger.Info("Starting pipeline run.", slog.Int("tenders", len(tenders)), slog.Int("workers", c.opts.Workers))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan source.Tender)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary = Summary{Total: len(tenders)}
		fatal   error
	)

	for i := range c.opts.Workers {
		wg.Add(1)
		worker := fmt.Sprintf("%s-%d", c.opts.WorkerID, i+1)
		go func() {
			defer wg.Done()
			wlog := logger.With(slog.String("worker", worker))
			wlog.Debug("Worker started.")
			for t := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				rep, err := c.Process(runCtx, worker, t)
				mu.Lock()
				if rep.Outcome != "" {
					summary.add(rep)
				}
				if err != nil && fatal == nil && runCtx.Err() == nil {
					fatal = err
					cancel(err)
				}
				mu.Unlock()
			}
			wlog.Debug("Worker finished (jobs channel closed).")
		}()
	}

	for _, t := range tenders {
		c.observe(Progress{Key: t.String(), Stage: StageQueued})
	}

feed:
	for _, t := range tenders {
		select {
		case jobs <- t:
		case <-runCtx.Done():
			logger.Warn("Run stopped, not queuing remaining tenders.", "cause", context.Cause(runCtx))
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	logger.Info("Pipeline run finished.",
		slog.Int("tenders", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("already_locked", summary.Locked),
	)

	var err error
	if fatal != nil {
		err = fmt.Errorf("run aborted: %w", fatal)
	}
	if ctx.Err() != nil {
		err = errors.Join(err, ctx.Err())
	}
	return summary, err
}
