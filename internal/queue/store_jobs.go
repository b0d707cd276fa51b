package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scriberd/internal/textutil"
)

// NewJob inserts a queued job that will fetch its media from url.
func (s *Store) NewJob(ctx context.Context, name, url, recipientGroup string) (*Job, error) {
	if name == "" {
		return nil, errors.New("job name required")
	}
	if url == "" {
		return nil, errors.New("job url required")
	}
	return s.insertJob(ctx, name, url, "", recipientGroup)
}

// NewUploadedJob inserts a queued job whose media already exists on disk;
// the fetch phase is skipped entirely.
func (s *Store) NewUploadedJob(ctx context.Context, name, mediaPath, recipientGroup string) (*Job, error) {
	if name == "" {
		return nil, errors.New("job name required")
	}
	if mediaPath == "" {
		return nil, errors.New("media path required")
	}
	return s.insertJob(ctx, name, "", mediaPath, recipientGroup)
}

func (s *Store) insertJob(ctx context.Context, name, url, mediaPath, recipientGroup string) (*Job, error) {
	ctx = ensureContext(ctx)
	now := timestamp(time.Now())

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		slug, err := s.uniqueSlug(ctx, tx, textutil.Slugify(name))
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (name, slug, url, status, progress, log, media_path, recipient_group, created_at, updated_at)
             VALUES (?, ?, ?, ?, 0, '', ?, ?, ?, ?)`,
			name,
			slug,
			url,
			JobQueued,
			nullableString(mediaPath),
			nullableString(recipientGroup),
			now,
			now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// uniqueSlug resolves slug collisions with a numeric suffix, checking both
// the jobs table and the data-dir filesystem namespace (a leftover job
// directory must not be reused by an unrelated job).
func (s *Store) uniqueSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	slug := base
	for i := 2; ; i++ {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE slug = ?`, slug).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		onDisk := false
		if s.dataDir != "" {
			if _, statErr := os.Stat(filepath.Join(s.dataDir, slug)); statErr == nil {
				onDisk = true
			}
		}
		if exists == 0 && !onDisk {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// GetJob fetches a job by identifier. Returns ErrNotFound for missing rows.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FreshJobStatus reads the job's current status directly from the database.
// The cancellation flag is written outside the claim holder, so checkpoints
// must never rely on a cached row.
func (s *Store) FreshJobStatus(ctx context.Context, id int64) (JobStatus, error) {
	ctx = ensureContext(ctx)
	var statusStr string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&statusStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read job status: %w", err)
	}
	return JobStatus(statusStr), nil
}

// ClaimNextJob atomically transitions the oldest queued job to downloading
// and returns its pre-claim contents. Returns (nil, nil) when no job is
// eligible or the conditional update lost the race to another claimer.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	var claimed *Job
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY id ASC LIMIT 1`, JobQueued)
		candidate, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			JobDownloading, timestamp(time.Now()), candidate.ID, JobQueued)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if affected == 1 {
			claimed = candidate
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// SetJobProgress updates the progress column for an in-flight job.
func (s *Store) SetJobProgress(ctx context.Context, id int64, progress float64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, timestamp(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return nil
}

// MarkJobTranscribing records the resolved media path and advances the job
// to the transcription phase. The external canceled flag is never overwritten.
func (s *Store) MarkJobTranscribing(ctx context.Context, id int64, mediaPath string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, media_path = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		JobTranscribing, nullableString(mediaPath), timestamp(time.Now()), id, JobCanceled)
	if err != nil {
		return fmt.Errorf("mark job transcribing: %w", err)
	}
	return nil
}

// MarkJobDone records the transcript path and finishes the job. mediaPath is
// empty when the fetched media was deleted after transcription.
func (s *Store) MarkJobDone(ctx context.Context, id int64, txtPath, mediaPath string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, txt_path = ?, media_path = ?, progress = 100, updated_at = ? WHERE id = ? AND status <> ?`,
		JobDone, nullableString(txtPath), nullableString(mediaPath), timestamp(time.Now()), id, JobCanceled)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

// MarkJobError records a terminal failure. A concurrently-written canceled
// status wins over the error.
func (s *Store) MarkJobError(ctx context.Context, id int64, message string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		JobError, nullableString(message), timestamp(time.Now()), id, JobCanceled)
	if err != nil {
		return fmt.Errorf("mark job error: %w", err)
	}
	return nil
}

// CancelJob requests cancellation of a queued or in-flight job. Terminal
// jobs are left untouched; the returned bool reports whether the flag was set.
func (s *Store) CancelJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?, ?)`,
		JobCanceled, timestamp(time.Now()), id, JobQueued, JobDownloading, JobTranscribing)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequeueOrphanedJobs returns jobs stuck in an active status to queued.
// Runs once at pipeline start: no worker can have survived a restart, so any
// active row is ownerless. Progress is deliberately left unchanged.
func (s *Store) RequeueOrphanedJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status IN (?, ?)`,
		JobQueued, timestamp(time.Now()), JobDownloading, JobTranscribing)
	if err != nil {
		return 0, fmt.Errorf("requeue orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryJob moves an errored job back to queued for reprocessing.
func (s *Store) RetryJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, progress = 0, error_message = NULL, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		JobQueued, timestamp(time.Now()), id, JobError, JobCanceled)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// AppendJobLog appends a timestamped line to the job's audit log.
// Silently no-ops when the job has been deleted.
func (s *Store) AppendJobLog(ctx context.Context, id int64, message string) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var logText string
		err = tx.QueryRowContext(ctx, `SELECT log FROM jobs WHERE id = ?`, id).Scan(&logText)
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		now := time.Now()
		line := fmt.Sprintf("[%s] %s\n", now.UTC().Format(sendAfterLayout), message)
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET log = ?, updated_at = ? WHERE id = ?`,
			logText+line, timestamp(now), id)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// UpdateJob persists the full job row. Intended for administrative edits;
// workers use the narrower transition methods.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	now := time.Now()
	job.UpdatedAt = now
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET name = ?, slug = ?, url = ?, status = ?, progress = ?, log = ?, media_path = ?, txt_path = ?, recipient_group = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		job.Name,
		job.Slug,
		job.URL,
		job.Status,
		job.Progress,
		job.Log,
		nullableString(job.MediaPath),
		nullableString(job.TxtPath),
		nullableString(job.RecipientGroup),
		nullableString(job.ErrorMessage),
		timestamp(now),
		job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status set (or all when none given),
// ordered by id.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats returns a count of jobs grouped by status.
func (s *Store) JobStats(ctx context.Context) (map[JobStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// RemoveJob deletes a job. Owned outbox rows go with it via the foreign key.
func (s *Store) RemoveJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearTerminalJobs removes done, errored, and canceled jobs.
func (s *Store) ClearTerminalJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?)`, JobDone, JobError, JobCanceled)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return res.RowsAffected()
}
