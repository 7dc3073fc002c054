package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CleanupResult reports what CleanupStaleJobs changed.
type CleanupResult struct {
	Jobs  int64
	Items int64
}

// CleanupStaleJobs fails jobs left QUEUED or RUNNING by a previous daemon run.
// Their unfinished items become FAILED with RestartFailureLog.
func (s *Store) CleanupStaleJobs(ctx context.Context) (CleanupResult, error) {
	ctx = ensureContext(ctx)
	var result CleanupResult
	now := nowString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE job_items SET status = ?, log = ?, updated_at = ?
			WHERE status IN (?, ?)
			  AND job_id IN (SELECT id FROM jobs WHERE status IN (?, ?))`,
			string(ItemFailed), RestartFailureLog, now,
			string(ItemQueued), string(ItemProcessing),
			string(JobQueued), string(JobRunning),
		)
		if err != nil {
			return fmt.Errorf("fail stale items: %w", err)
		}
		if result.Items, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, end_time = ? WHERE status IN (?, ?)`,
			string(JobFailed), now, string(JobQueued), string(JobRunning),
		)
		if err != nil {
			return fmt.Errorf("fail stale jobs: %w", err)
		}
		result.Jobs, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return CleanupResult{}, storageError("cleanup stale jobs", err)
	}
	return result, nil
}
