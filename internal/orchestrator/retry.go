package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/brensch/tenderscan/internal/apperr"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// RetryPolicy retries transient failures a fixed number of times with a
// fixed delay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// retry calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx ends.
func retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 1; ; attempt++ {
		v, err = fn(ctx)
		if err == nil || !apperr.IsRetryable(err) || attempt >= p.Attempts {
			return v, err
		}
		logger.Warn("Transient failure, retrying.", "op", op, "attempt", attempt, "max_attempts", p.Attempts, "delay", p.Delay, "error", err)
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
}
