package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var terminalJobArgs = []any{string(JobCompleted), string(JobFailed), string(JobCancelled)}

var terminalItemArgs = []any{string(ItemCompleted), string(ItemFailed), string(ItemCancelled)}

// CreateJob inserts a QUEUED job plus one QUEUED item per ASIN. For download
// jobs the listed books get their retry_count reset in the same transaction.
func (s *Store) CreateJob(ctx context.Context, kind JobKind, parameters string, asins []string) (*Job, error) {
	if strings.TrimSpace(parameters) == "" {
		parameters = "{}"
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	var jobID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (job_type, status, start_time, parameters) VALUES (?, ?, ?, ?)`,
			string(kind), string(JobQueued), formatTime(now), parameters,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if jobID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("job id: %w", err)
		}
		for _, asin := range asins {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO job_items (job_id, asin, status, updated_at) VALUES (?, ?, ?, ?)`,
				jobID, asin, string(ItemQueued), formatTime(now),
			); err != nil {
				return fmt.Errorf("insert job item %s: %w", asin, err)
			}
		}
		if kind == JobKindDownload && len(asins) > 0 {
			args := append([]any{formatTime(now)}, stringArgs(asins)...)
			if _, err := tx.ExecContext(ctx,
				`UPDATE audiobooks SET retry_count = 0, updated_at = ? WHERE asin IN (`+makePlaceholders(len(asins))+`)`,
				args...,
			); err != nil {
				return fmt.Errorf("reset retry counts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageError("create job", err)
	}
	return &Job{ID: jobID, Kind: kind, Status: JobQueued, StartTime: now, Parameters: parameters}, nil
}

// GetJob returns nil, nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get job", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. A limit <= 0 returns all jobs.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, query, args...)
}

// ActiveJobs returns jobs that are QUEUED or RUNNING.
func (s *Store) ActiveJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY id`,
		string(JobQueued), string(JobRunning),
	)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, storageError("list jobs", err)
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageError("scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, storageError("list jobs", rows.Err())
}

// SetJobStatus moves a non-terminal job to status. It returns ErrTerminal when
// the job already finished or does not exist.
func (s *Store) SetJobStatus(ctx context.Context, id int64, status JobStatus) error {
	args := append([]any{string(status), id}, terminalJobArgs...)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status NOT IN (?, ?, ?)`, args...)
	if err != nil {
		return storageError("set job status", err)
	}
	return requireAffected(res, id)
}

// FinishJob records a terminal status and end time for a job.
func (s *Store) FinishJob(ctx context.Context, id int64, status JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish job %d: %s is not a terminal status", id, status)
	}
	args := append([]any{string(status), nowString(), id}, terminalJobArgs...)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, end_time = ? WHERE id = ? AND status NOT IN (?, ?, ?)`, args...)
	if err != nil {
		return storageError("finish job", err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", id, ErrTerminal)
	}
	return nil
}

// JobItems lists the items of a job in insertion order.
func (s *Store) JobItems(ctx context.Context, jobID int64) ([]*JobItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, storageError("list job items", err)
	}
	defer rows.Close()
	var items []*JobItem
	for rows.Next() {
		item, err := scanJobItem(rows)
		if err != nil {
			return nil, storageError("scan job item", err)
		}
		items = append(items, item)
	}
	return items, storageError("list job items", rows.Err())
}

// JobItemDetails lists items joined with their book title and author.
func (s *Store) JobItemDetails(ctx context.Context, jobID int64) ([]JobItemDetail, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `
		SELECT ji.id, ji.job_id, ji.asin, ji.status, ji.log, ji.updated_at,
		       COALESCE(b.title, ''), COALESCE(b.author, '')
		FROM job_items ji
		LEFT JOIN audiobooks b ON b.asin = ji.asin
		WHERE ji.job_id = ?
		ORDER BY ji.id`, jobID)
	if err != nil {
		return nil, storageError("list job item details", err)
	}
	defer rows.Close()
	var details []JobItemDetail
	for rows.Next() {
		var (
			detail     JobItemDetail
			status     string
			logText    sql.NullString
			updatedRaw string
		)
		if err := rows.Scan(&detail.ID, &detail.JobID, &detail.ASIN, &status, &logText, &updatedRaw,
			&detail.Title, &detail.Author); err != nil {
			return nil, storageError("scan job item detail", err)
		}
		detail.Status = ItemStatus(status)
		detail.Log = logText.String
		if updated, err := parseTimeString(updatedRaw); err == nil {
			detail.UpdatedAt = updated
		}
		details = append(details, detail)
	}
	return details, storageError("list job item details", rows.Err())
}

// SetItemStatus updates one item unless it is already terminal. The returned
// bool reports whether a row changed.
func (s *Store) SetItemStatus(ctx context.Context, jobID int64, asin string, status ItemStatus, logText string) (bool, error) {
	args := append([]any{string(status), nullableString(logText), nowString(), jobID, asin}, terminalItemArgs...)
	res, err := s.execWithRetry(ctx, `
		UPDATE job_items SET status = ?, log = COALESCE(?, log), updated_at = ?
		WHERE job_id = ? AND asin = ? AND status NOT IN (?, ?, ?)`, args...)
	if err != nil {
		return false, storageError("set item status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageError("rows affected", err)
	}
	return affected > 0, nil
}

// CancelQueuedItems marks every still-QUEUED item of a job CANCELLED.
func (s *Store) CancelQueuedItems(ctx context.Context, jobID int64) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE job_items SET status = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		string(ItemCancelled), nowString(), jobID, string(ItemQueued))
	if err != nil {
		return 0, storageError("cancel queued items", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("rows affected", err)
	}
	return affected, nil
}
