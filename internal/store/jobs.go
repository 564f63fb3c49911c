package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/journal/internal/domain"
)

const jobColumns = `id, content_id, status, attempts, max_attempts, run_at, last_error, created_at, updated_at, finished_at`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                           domain.Job
		runAt, createdAt, updatedAt int64
		finishedAt                  sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.ContentID, &j.Status, &j.Attempts, &j.MaxAttempts, &runAt,
		&j.LastError, &createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	j.RunAt = fromMillis(runAt)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.FinishedAt = nullMillis(finishedAt)
	return &j, nil
}

// EnqueueJob adds a queued job for contentID, ready at now
func (s *Store) EnqueueJob(ctx context.Context, contentID string, maxAttempts int, now time.Time) (*domain.Job, error) {
	now = now.UTC().Truncate(time.Millisecond)
	j := &domain.Job{
		ID:          uuid.New().String(),
		ContentID:   contentID,
		Status:      domain.JobQueued,
		MaxAttempts: maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, content_id, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		j.ID, j.ContentID, j.Status, j.MaxAttempts, millis(now), millis(now), millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// ClaimJob moves the oldest ready job to running and counts the attempt.
// It returns ErrNotFound when nothing is ready. Two workers racing for the
// same row are settled by the status guard on the UPDATE.
func (s *Store) ClaimJob(ctx context.Context, now time.Time) (*domain.Job, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM analysis_jobs
			WHERE status = 'queued' AND run_at <= ?
			ORDER BY run_at, created_at LIMIT 1`, millis(now)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("select ready job: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE analysis_jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND status = 'queued'`, millis(now), id)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if n == 1 {
			return s.GetJob(ctx, id)
		}
		// lost the race, look again
	}
}

// GetJob loads a job by id
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM analysis_jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// CompleteJob marks a running job succeeded
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	return s.finishJob(ctx, id, domain.JobSucceeded, "", now)
}

// FailJob marks a running job terminally failed, keeping the last error
func (s *Store) FailJob(ctx context.Context, id, lastErr string, now time.Time) error {
	return s.finishJob(ctx, id, domain.JobFailed, lastErr, now)
}

func (s *Store) finishJob(ctx context.Context, id string, status domain.JobStatus, lastErr string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = ?, last_error = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = 'running'`,
		status, lastErr, millis(now), millis(now), id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return expectOne(res, "finish job")
}

// RescheduleJob puts a running job back in the queue to run at runAt
func (s *Store) RescheduleJob(ctx context.Context, id, lastErr string, runAt, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'queued', last_error = ?, run_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		lastErr, millis(runAt), millis(now), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return expectOne(res, "reschedule job")
}

// ReleaseJob returns a running job to the queue without spending an
// attempt, used when a worker is stopped mid-run
func (s *Store) ReleaseJob(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'queued', attempts = MAX(attempts - 1, 0), updated_at = ?
		WHERE id = ? AND status = 'running'`,
		millis(now), id,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return expectOne(res, "release job")
}

// RequeueStaleJobs recovers jobs left running by a crashed worker.
// The interrupted attempt still counts: a job that was on its last attempt
// is failed instead of requeued. It returns the number of jobs recovered.
func (s *Store) RequeueStaleJobs(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	defer rollback(tx)

	failed, err := tx.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'failed', updated_at = ?, finished_at = ?,
			last_error = CASE WHEN last_error = '' THEN 'worker lost' ELSE last_error || ' (worker lost)' END
		WHERE status = 'running' AND updated_at < ? AND attempts >= max_attempts`,
		millis(now), millis(now), millis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted stale jobs: %w", err)
	}
	requeued, err := tx.ExecContext(ctx, `
		UPDATE analysis_jobs SET status = 'queued', run_at = ?, updated_at = ?,
			last_error = CASE WHEN last_error = '' THEN 'worker lost' ELSE last_error END
		WHERE status = 'running' AND updated_at < ?`,
		millis(now), millis(now), millis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}

	var total int64
	for _, res := range []sql.Result{failed, requeued} {
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("requeue stale jobs: %w", err)
		}
		total += n
	}
	return total, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + jobColumns + " FROM analysis_jobs"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
