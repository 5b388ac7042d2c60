package store

import (
	"context"
	"fmt"
	"time"
)

const (
	// Sizes within this relative distance count as comparable.
	throughputTolerance = 0.5
	throughputWindow    = 30 * 24 * time.Hour
	throughputMinRuns   = 5
)

// AverageThroughput returns the mean bytes per second of finished runs whose
// total size is within ±50% of sizeBytes over the last 30 days. ok is false
// with fewer than five such runs.
func (s *Store) AverageThroughput(ctx context.Context, sizeBytes int64) (bytesPerSecond float64, ok bool, err error) {
	if sizeBytes <= 0 {
		return 0, false, nil
	}
	lo := int64(float64(sizeBytes) * (1 - throughputTolerance))
	hi := int64(float64(sizeBytes) * (1 + throughputTolerance))

	var row struct {
		Speed   *float64
		Samples int64
	}
	err = s.db.WithContext(ctx).Raw(`
SELECT AVG(CAST(total_size_bytes AS DOUBLE PRECISION) / processing_time_seconds) AS speed,
       COUNT(*) AS samples
FROM tender_document_matches
WHERE total_size_bytes BETWEEN ? AND ?
  AND total_size_bytes > 0
  AND processing_time_seconds > 0
  AND updated_at >= ?
  AND (error_reason IS NULL OR error_reason <> ?)`,
		lo, hi, s.timestamp().Add(-throughputWindow), ErrorProcessing,
	).Scan(&row).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to query throughput: %w", err)
	}
	if row.Samples < throughputMinRuns || row.Speed == nil || *row.Speed <= 0 {
		return 0, false, nil
	}
	return *row.Speed, true, nil
}
