// Package cleanup removes tender work folders.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/tenderscan/internal/tender"
)

// Cleaner deletes work folders under a root. It refuses paths outside it.
type Cleaner struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

func New(root string, logger *slog.Logger) *Cleaner {
	return &Cleaner{root: root, logger: logger, now: time.Now}
}

// Clean removes dir and everything in it. keep leaves it in place, which is
// what the pipeline does for tenders that failed.
func (c *Cleaner) Clean(ctx context.Context, dir string, keep bool) error {
	if keep {
		c.logger.Debug("Keeping work folder.", "dir", dir)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.inside(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	c.logger.Debug("Removed work folder.", "dir", dir)
	return nil
}

// Sweep removes tender folders (named like 44fz_123) directly under the root
// that were last modified more than olderThan ago. It returns how many were
// removed; failures are joined and do not stop the sweep.
func (c *Cleaner) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", c.root, err)
	}
	cutoff := c.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, errors.Join(append(errs, ctx.Err())...)
		}
		if !e.IsDir() {
			continue
		}
		if _, err := tender.ParseRef(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.Name(), err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("Removed stale work folders.", "count", removed, "older_than", olderThan)
	}
	return removed, errors.Join(errs...)
}

func (c *Cleaner) inside(dir string) error {
	root, err := filepath.Abs(c.root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", c.root, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s: not inside %s", dir, c.root)
	}
	return nil
}
