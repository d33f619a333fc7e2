package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/storydesk/internal/domain"
)

const jobColumns = `id, article_id, status, attempts, last_error, claimed_by, created_at, updated_at`

// EnqueueJob inserts a pending job for an accepted article. A second active
// job for the same article is refused as already in progress.
func (s *Store) EnqueueJob(ctx context.Context, job domain.QueueJob) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getArticle(ctx, tx, job.ArticleID)
		if err != nil {
			return err
		}
		if a.Status != domain.ArticleProcessing {
			return domain.PreconditionFailed(domain.EntityJob, job.ID, "only accepted articles can be queued")
		}
		return insertJob(ctx, tx, job)
	})
}

func insertJob(ctx context.Context, tx *sql.Tx, job domain.QueueJob) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.ArticleID,
		string(job.Status),
		job.Attempts,
		job.LastError,
		job.ClaimedBy,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.AlreadyInProgress(domain.EntityJob, job.ArticleID, "the article already has a queued job")
	}
	if err != nil {
		return fmt.Errorf("write job: %w", err)
	}
	return nil
}

// GetJob retrieves a single job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (domain.QueueJob, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q queryer, id string) (domain.QueueJob, error) {
	job, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueJob{}, domain.NotFound(domain.EntityJob, id)
	}
	return job, err
}

// ListJobs returns jobs in queue order, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.QueueJob, error) {
	b := psql.Select(jobColumns).From("queue_jobs").OrderBy("seq ASC")
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select jobs: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.QueueJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNextJob moves the oldest pending job to processing and returns it.
// The select and the update are one conditional statement, so concurrent
// callers can never claim the same job. ok is false when nothing is pending.
func (s *Store) ClaimNextJob(ctx context.Context, worker string, now time.Time) (job domain.QueueJob, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE queue_jobs
		SET status = 'processing', claimed_by = ?, updated_at = ?
		WHERE seq = (SELECT seq FROM queue_jobs WHERE status = 'pending' ORDER BY seq ASC LIMIT 1)
		  AND status = 'pending'
		RETURNING `+jobColumns,
		worker,
		formatTime(now),
	)
	job, err = scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueJob{}, false, nil
	}
	if err != nil {
		return domain.QueueJob{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// CompleteJob marks a processing job completed and creates its draft story
// with slides in the same transaction. The job cannot complete without the
// story, and the article becomes processed.
func (s *Store) CompleteJob(ctx context.Context, jobID string, story domain.Story, now time.Time) (domain.Story, error) {
	var out domain.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobProcessing {
			return domain.IllegalTransition(domain.EntityJob, jobID, "complete", job.Status)
		}
		if story.ArticleID != job.ArticleID {
			return domain.Invalid(domain.EntityStory, story.ID, "story does not belong to the job's article")
		}
		if len(story.Slides) == 0 {
			return domain.PreconditionFailed(domain.EntityJob, jobID, "a job cannot complete without story slides")
		}

		story.Status = domain.StoryDraft
		story.CreatedAt = now
		story.UpdatedAt = now
		if err := insertStory(ctx, tx, story); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE queue_jobs SET status = 'completed', last_error = '', updated_at = ?
			WHERE id = ? AND status = 'processing'
		`, formatTime(now), jobID)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.IllegalTransition(domain.EntityJob, jobID, "complete", "a concurrently changed status")
		}

		if err := setArticleStatus(ctx, tx, job.ArticleID, domain.ArticleProcessing, domain.ArticleProcessed, domain.ReasonNone, now); err != nil {
			return err
		}

		out, err = getStory(ctx, tx, story.ID)
		return err
	})
	return out, err
}

// FailJob marks a processing job failed and records the collaborator's error.
func (s *Store) FailJob(ctx context.Context, jobID, message string, now time.Time) (domain.QueueJob, error) {
	var out domain.QueueJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_jobs SET status = 'failed', last_error = ?, updated_at = ?
			WHERE id = ? AND status = 'processing'
		`, message, formatTime(now), jobID)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			job, err := getJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			return domain.IllegalTransition(domain.EntityJob, jobID, "fail", job.Status)
		}
		out, err = getJob(ctx, tx, jobID)
		return err
	})
	return out, err
}

// FailStaleJobs marks every job that has been processing since cutoff or
// earlier as failed with message. It recovers claims whose worker died
// before writing an outcome.
func (s *Store) FailStaleJobs(ctx context.Context, cutoff time.Time, message string, now time.Time) ([]domain.QueueJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE queue_jobs SET status = 'failed', last_error = ?, updated_at = ?
		WHERE status = 'processing' AND updated_at <= ?
		RETURNING `+jobColumns,
		message,
		formatTime(now),
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.QueueJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}
	return jobs, nil
}

// ResetJob returns a failed job to pending and increments its attempts.
// A positive maxAttempts caps how many resets are allowed.
func (s *Store) ResetJob(ctx context.Context, jobID string, maxAttempts int, now time.Time) (domain.QueueJob, error) {
	var out domain.QueueJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobFailed {
			return domain.IllegalTransition(domain.EntityJob, jobID, "reset", job.Status)
		}
		if maxAttempts > 0 && job.Attempts >= maxAttempts {
			return &domain.Error{
				Code:   domain.CodeRetryExhausted,
				Entity: domain.EntityJob,
				ID:     jobID,
				Reason: fmt.Sprintf("the job was already retried %d times", job.Attempts),
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE queue_jobs SET status = 'pending', attempts = attempts + 1, claimed_by = '', updated_at = ?
			WHERE id = ? AND status = 'failed'
		`, formatTime(now), jobID)
		if err != nil {
			return fmt.Errorf("reset job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.IllegalTransition(domain.EntityJob, jobID, "reset", "a concurrently changed status")
		}
		out, err = getJob(ctx, tx, jobID)
		return err
	})
	return out, err
}

func scanJob(r rowScanner) (domain.QueueJob, error) {
	var job domain.QueueJob
	var status, created, updated string

	if err := r.Scan(
		&job.ID, &job.ArticleID, &status, &job.Attempts, &job.LastError, &job.ClaimedBy, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, err
		}
		return job, fmt.Errorf("scan job: %w", err)
	}

	var err error
	if job.Status, err = domain.ParseJobStatus(status); err != nil {
		return job, err
	}
	if job.CreatedAt, err = parseTime(created); err != nil {
		return job, err
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return job, err
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
