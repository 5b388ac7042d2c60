package downloader

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultMinTimeout = 2 * time.Minute
	DefaultMaxTimeout = 3 * time.Hour
	// Used when the document size is unknown.
	DefaultTimeout = time.Hour
	// Assumed throughput when no history is available.
	DefaultBytesPerSecond = 256 * 1024
)

// Headroom over the expected transfer time, by extension. Scanned documents
// and images are slow to serve.
var typeMultipliers = map[string]float64{
	".pdf":  5,
	".jpg":  4,
	".jpeg": 4,
	".png":  4,
	".tiff": 6,
	".tif":  6,
	".rar":  3,
	".zip":  3,
	".7z":   3,
	".xlsx": 2.5,
	".xls":  2.5,
	".docx": 2.5,
	".doc":  2.5,
}

const defaultMultiplier = 3.0

// SpeedSource reports historical throughput for transfers of a similar size.
type SpeedSource interface {
	AverageThroughput(ctx context.Context, sizeBytes int64) (bytesPerSecond float64, ok bool, err error)
}

// TimeoutCalculator sizes per-document download deadlines.
type TimeoutCalculator struct {
	Min, Max       time.Duration
	BytesPerSecond float64
	// Speed, if set, overrides BytesPerSecond with observed throughput.
	Speed  SpeedSource
	Logger *slog.Logger
}

func multiplier(name string) float64 {
	if m, ok := typeMultipliers[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return defaultMultiplier
}

// ForTender resolves the throughput once for a tender whose documents total
// size bytes. History is recorded per tender, so the lookup uses the tender's
// total rather than each document's size.
func (c TimeoutCalculator) ForTender(ctx context.Context, size int64) TimeoutCalculator {
	if c.Speed == nil || size <= 0 {
		return c
	}
	observed, ok, err := c.Speed.AverageThroughput(ctx, size)
	switch {
	case err != nil:
		if c.Logger != nil {
			c.Logger.Debug("Throughput history unavailable.", "error", err)
		}
	case ok:
		c.BytesPerSecond = observed
	}
	c.Speed = nil
	return c
}

// Timeout returns size / throughput × the type multiplier, clamped to
// [Min, Max]. Unknown sizes get DefaultTimeout.
func (c TimeoutCalculator) Timeout(ctx context.Context, name string, size int64) time.Duration {
	lo, hi := c.Min, c.Max
	if lo <= 0 {
		lo = DefaultMinTimeout
	}
	if hi < lo {
		hi = max(DefaultMaxTimeout, lo)
	}
	if size <= 0 {
		return min(max(DefaultTimeout, lo), hi)
	}

	speed := c.BytesPerSecond
	if speed <= 0 {
		speed = DefaultBytesPerSecond
	}
	if c.Speed != nil {
		observed, ok, err := c.Speed.AverageThroughput(ctx, size)
		switch {
		case err != nil:
			if c.Logger != nil {
				c.Logger.Debug("Throughput history unavailable.", "error", err)
			}
		case ok:
			speed = observed
		}
	}

	seconds := float64(size) / speed * multiplier(name)
	d := time.Duration(seconds * float64(time.Second))
	return min(max(d, lo), hi)
}
