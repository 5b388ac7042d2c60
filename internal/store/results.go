package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/brensch/tenderscan/internal/apperr"
	"github.com/brensch/tenderscan/internal/tender"
)

// Reason stored for tenders that had no qualifying documents.
const ReasonNoDocuments = "no_documents"

// Result is the final aggregate of one tender run.
type Result struct {
	Key             tender.Ref
	MatchCount      int
	MatchPercentage float64
	ProcessingTime  time.Duration
	TotalFiles      int
	TotalSizeBytes  int64
	ErrorReason     string // empty when the run had no tender-level error
	HasError        bool
	FolderName      string
	WorkerID        string
}

// IsInteresting applies the business rule for a single run: no error, at
// least one match and a best tier of 85 or more.
func IsInteresting(r Result) bool {
	if r.ErrorReason != "" {
		return false
	}
	if r.MatchCount == 0 {
		return false
	}
	return r.MatchPercentage >= 85
}

// Acquire claims key for workerID by writing a PROCESSING placeholder. It
// succeeds when no row exists, when the existing placeholder is older than
// ttl or already owned by workerID, or, with reprocess, when the row holds a
// finished result. It is a single statement, so concurrent callers on any
// host see exactly one winner.
func (s *Store) Acquire(ctx context.Context, key tender.Ref, workerID string, ttl time.Duration, reprocess bool) (bool, error) {
	now := s.timestamp()
	staleBefore := now.Add(-ttl)
	const q = `
INSERT INTO tender_document_matches
    (tender_id, registry_type, match_count, match_percentage, processing_time_seconds,
     total_files_processed, total_size_bytes, error_reason, folder_name, has_error,
     is_interesting, worker_id, created_at, updated_at)
VALUES (?, ?, 0, 0, 0, 0, 0, 'PROCESSING', ?, FALSE, FALSE, ?, ?, ?)
ON CONFLICT (tender_id, registry_type) DO UPDATE SET
    error_reason = 'PROCESSING',
    worker_id = excluded.worker_id,
    updated_at = excluded.updated_at
WHERE (tender_document_matches.error_reason = 'PROCESSING'
       AND (tender_document_matches.updated_at < ? OR tender_document_matches.worker_id = ?))
   OR (? AND (tender_document_matches.error_reason IS NULL
              OR tender_document_matches.error_reason <> 'PROCESSING'))
RETURNING id`

	var ids []int64
	err := s.db.WithContext(ctx).Raw(q,
		key.ID, string(key.Registry), key.String(), workerID, now, now,
		staleBefore, workerID, reprocess,
	).Scan(&ids).Error
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	return len(ids) == 1, nil
}

// Release deletes the PROCESSING placeholder held by workerID so a later run
// can pick the tender up. Finished rows are never touched.
func (s *Store) Release(ctx context.Context, key tender.Ref, workerID string) error {
	err := s.db.WithContext(ctx).Exec(`
DELETE FROM tender_document_matches
WHERE tender_id = ? AND registry_type = ? AND error_reason = 'PROCESSING' AND worker_id = ?`,
		key.ID, string(key.Registry), workerID).Error
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// ErrLockLost is returned by SaveResult when another worker holds the
// PROCESSING placeholder of the tender.
var ErrLockLost = errors.New("tender is held by another worker")

// Heartbeat refreshes the placeholder workerID holds on key so it does not
// age past the TTL while the tender is still being processed. It reports
// false when the placeholder is gone or owned by someone else.
func (s *Store) Heartbeat(ctx context.Context, key tender.Ref, workerID string) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
UPDATE tender_document_matches SET updated_at = ?
WHERE tender_id = ? AND registry_type = ? AND error_reason = 'PROCESSING' AND worker_id = ?`,
		s.timestamp(), key.ID, string(key.Registry), workerID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to refresh lock on %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SaveResult upserts the aggregate for r.Key and returns its row id. It
// replaces a placeholder only when r.WorkerID owns it; a placeholder held
// by another worker yields ErrLockLost and leaves the row alone.
// is_interesting only ever moves from false to true.
func (s *Store) SaveResult(ctx context.Context, r Result) (int64, error) {
	now := s.timestamp()
	var reason *string
	if r.ErrorReason != "" {
		reason = &r.ErrorReason
	}
	const q = `
INSERT INTO tender_document_matches
    (tender_id, registry_type, match_count, match_percentage, processing_time_seconds,
     total_files_processed, total_size_bytes, error_reason, folder_name, has_error,
     is_interesting, worker_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tender_id, registry_type) DO UPDATE SET
    match_count = excluded.match_count,
    match_percentage = excluded.match_percentage,
    processing_time_seconds = excluded.processing_time_seconds,
    total_files_processed = excluded.total_files_processed,
    total_size_bytes = excluded.total_size_bytes,
    error_reason = excluded.error_reason,
    folder_name = excluded.folder_name,
    has_error = excluded.has_error,
    is_interesting = CASE WHEN tender_document_matches.is_interesting THEN TRUE
                          ELSE excluded.is_interesting END,
    worker_id = excluded.worker_id,
    updated_at = excluded.updated_at
WHERE tender_document_matches.error_reason IS NULL
   OR tender_document_matches.error_reason <> 'PROCESSING'
   OR tender_document_matches.worker_id = excluded.worker_id
RETURNING id`

	var ids []int64
	err := s.db.WithContext(ctx).Raw(q,
		r.Key.ID, string(r.Key.Registry), r.MatchCount, r.MatchPercentage, r.ProcessingTime.Seconds(),
		r.TotalFiles, r.TotalSizeBytes, reason, r.FolderName, r.HasError,
		IsInteresting(r), r.WorkerID, now, now,
	).Scan(&ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save result for %s: %w", r.Key, err)
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
		return 0, fmt.Errorf("failed to save result for %s: %w", r.Key, ErrLockLost)
	}
	return 0, fmt.Errorf("failed to save result for %s: upsert returned %d rows", r.Key, len(ids))
}

// ReplaceDetails swaps the detail rows of matchID for details in one
// transaction. An empty slice clears them.
func (s *Store) ReplaceDetails(ctx context.Context, matchID int64, details []MatchDetail) error {
	now := s.timestamp()
	for i := range details {
		details[i].ID = 0
		details[i].MatchID = matchID
		details[i].CreatedAt = now
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("match_id = ?", matchID).Delete(&MatchDetail{}).Error; err != nil {
			return err
		}
		if len(details) == 0 {
			return nil
		}
		return tx.Omit("Match").CreateInBatches(details, 100).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace details of result %d: %w", matchID, err)
	}
	return nil
}

// ReplaceFileErrors swaps the file error rows of matchID in one transaction.
func (s *Store) ReplaceFileErrors(ctx context.Context, matchID int64, errs []FileError) error {
	now := s.timestamp()
	for i := range errs {
		errs[i].ID = 0
		errs[i].MatchID = matchID
		errs[i].CreatedAt = now
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("match_id = ?", matchID).Delete(&FileError{}).Error; err != nil {
			return err
		}
		if len(errs) == 0 {
			return nil
		}
		return tx.Omit("Match").CreateInBatches(errs, 100).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace file errors of result %d: %w", matchID, err)
	}
	return nil
}

// Get returns the aggregate for key, or a NotFound error.
func (s *Store) Get(ctx context.Context, key tender.Ref) (MatchResult, error) {
	var m MatchResult
	err := s.db.WithContext(ctx).
		Where("tender_id = ? AND registry_type = ?", key.ID, string(key.Registry)).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MatchResult{}, apperr.Errorf(apperr.KindNotFound, "get result", "no result for %s", key)
	}
	if err != nil {
		return MatchResult{}, fmt.Errorf("failed to get result for %s: %w", key, err)
	}
	return m, nil
}

// Details returns the detail rows of matchID, best score first.
func (s *Store) Details(ctx context.Context, matchID int64) ([]MatchDetail, error) {
	var out []MatchDetail
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Order("score DESC, id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list details of result %d: %w", matchID, err)
	}
	return out, nil
}

// FileErrors returns the file error rows of matchID.
func (s *Store) FileErrors(ctx context.Context, matchID int64) ([]FileError, error) {
	var out []FileError
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list file errors of result %d: %w", matchID, err)
	}
	return out, nil
}

// Recent returns the most recently updated aggregates.
func (s *Store) Recent(ctx context.Context, limit int) ([]MatchResult, error) {
	var out []MatchResult
	err := s.db.WithContext(ctx).Order("updated_at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent results: %w", err)
	}
	return out, nil
}

// CleanupStalePlaceholders deletes PROCESSING placeholders older than ttl,
// returning how many were removed.
func (s *Store) CleanupStalePlaceholders(ctx context.Context, ttl time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM tender_document_matches WHERE error_reason = 'PROCESSING' AND updated_at < ?`,
		s.timestamp().Add(-ttl))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete stale placeholders: %w", res.Error)
	}
	return res.RowsAffected, nil
}
