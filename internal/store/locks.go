package store

import (
	"context"
	"fmt"

	"github.com/brensch/tenderscan/internal/tender"
)

// AcquireLock takes the dedicated lease on key for workerID. An expired
// lease, or one already held by workerID, is taken over and extended.
func (s *Store) AcquireLock(ctx context.Context, key tender.Ref, workerID string) (bool, error) {
	now := s.timestamp()
	const q = `
INSERT INTO tender_locks (tender_id, registry_type, worker_id, acquired_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (tender_id, registry_type) DO UPDATE SET
    worker_id = excluded.worker_id,
    acquired_at = excluded.acquired_at,
    expires_at = excluded.expires_at
WHERE tender_locks.expires_at < ? OR tender_locks.worker_id = ?
RETURNING id`

	var ids []int64
	err := s.db.WithContext(ctx).Raw(q,
		key.ID, string(key.Registry), workerID, now, now.Add(s.lockTTL),
		now, workerID,
	).Scan(&ids).Error
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	return len(ids) == 1, nil
}

// ReleaseLock drops the lease on key if workerID holds it.
func (s *Store) ReleaseLock(ctx context.Context, key tender.Ref, workerID string) error {
	err := s.db.WithContext(ctx).
		Where("tender_id = ? AND registry_type = ? AND worker_id = ?", key.ID, string(key.Registry), workerID).
		Delete(&TenderLock{}).Error
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", key, err)
	}
	return nil
}

// CleanupExpired deletes expired leases and returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", s.timestamp()).Delete(&TenderLock{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired locks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("Deleted expired tender locks.", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
