// Package queue moves accepted articles through story generation.
//
// Jobs go pending → processing → completed | failed. A failed job returns to
// pending only through Reset, which counts the attempt; nothing retries on
// its own. Completing a job is the only way a draft story comes into being,
// and the two happen in one store transaction.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/store"
)

// DefaultMaxAttempts is how many resets a failed job gets before
// ResetJob refuses with retry_exhausted.
const DefaultMaxAttempts = 3

// DefaultStaleAfter is how long a claim may sit in processing before
// ReleaseStale treats its worker as gone.
const DefaultStaleAfter = 15 * time.Minute

// Draft is generator output before it is given identities.
type Draft struct {
	Title  string              `json:"title"`
	Slides []domain.SlideDraft `json:"slides"`
}

// Queue owns queue job transitions.
type Queue struct {
	store       *store.Store
	ids         domain.IDGenerator
	now         func() time.Time
	notifier    domain.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	maxAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDs sets the identity source for jobs, stories and slides.
func WithIDs(ids domain.IDGenerator) Option {
	return func(q *Queue) { q.ids = ids }
}

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithNotifier sets where committed changes are announced.
func WithNotifier(n domain.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMaxAttempts caps resets per job. Zero means unlimited.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// New creates a Queue over s.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       s,
		ids:         domain.UUIDv7Generator{},
		now:         time.Now,
		notifier:    domain.NopNotifier{},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	return q
}

// Enqueue creates a pending job for an article that intake accepted.
func (q *Queue) Enqueue(ctx context.Context, articleID string) (domain.QueueJob, error) {
	now := q.now()
	job := domain.QueueJob{
		ID:        q.ids.NewID(),
		ArticleID: articleID,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return domain.QueueJob{}, err
	}
	q.logger.Info("job enqueued", "job_id", job.ID, "article_id", articleID)
	q.notifier.Notify(domain.Change{Entity: domain.EntityJob, ID: job.ID, Op: domain.OpCreated})
	return job, nil
}

// ClaimNext moves the oldest pending job to processing for worker.
// ok is false when the queue is empty.
func (q *Queue) ClaimNext(ctx context.Context, worker string) (job domain.QueueJob, ok bool, err error) {
	job, ok, err = q.store.ClaimNextJob(ctx, worker, q.now())
	switch {
	case err != nil:
		q.metrics.QueueClaim("error")
		q.logger.Error("claim failed", "worker", worker, "error", err)
		return domain.QueueJob{}, false, err
	case !ok:
		q.metrics.QueueClaim("empty")
		return domain.QueueJob{}, false, nil
	}
	q.metrics.QueueClaim("claimed")
	q.metrics.Transition(string(domain.EntityJob), string(domain.JobPending), string(domain.JobProcessing))
	q.logger.Info("job claimed", "job_id", job.ID, "article_id", job.ArticleID, "worker", worker)
	q.notifier.Notify(domain.Change{Entity: domain.EntityJob, ID: job.ID, Op: domain.OpUpdated})
	return job, true, nil
}

// Complete validates generator output and, in one transaction, creates the
// draft story and marks the job completed. Invalid output leaves the job
// processing; the caller decides whether to Fail it.
func (q *Queue) Complete(ctx context.Context, jobID string, draft Draft) (domain.Story, error) {
	if err := domain.ValidateSlides(draft.Slides); err != nil {
		return domain.Story{}, err
	}
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Story{}, err
	}

	story := domain.Story{
		ID:        q.ids.NewID(),
		ArticleID: job.ArticleID,
		Title:     draft.Title,
	}
	for _, sd := range draft.Slides {
		story.Slides = append(story.Slides, domain.Slide{
			ID:           q.ids.NewID(),
			StoryID:      story.ID,
			SlideNumber:  sd.SlideNumber,
			Content:      sd.Content,
			VisualPrompt: sd.VisualPrompt,
		})
	}

	created, err := q.store.CompleteJob(ctx, jobID, story, q.now())
	if err != nil {
		return domain.Story{}, err
	}
	q.metrics.Transition(string(domain.EntityJob), string(domain.JobProcessing), string(domain.JobCompleted))
	q.metrics.Transition(string(domain.EntityArticle), string(domain.ArticleProcessing), string(domain.ArticleProcessed))
	q.logger.Info("job completed", "job_id", jobID, "article_id", job.ArticleID, "story_id", created.ID, "slides", len(created.Slides))
	q.notifier.Notify(
		domain.Change{Entity: domain.EntityJob, ID: jobID, Op: domain.OpUpdated},
		domain.Change{Entity: domain.EntityStory, ID: created.ID, Op: domain.OpCreated},
		domain.Change{Entity: domain.EntityArticle, ID: job.ArticleID, Op: domain.OpUpdated},
	)
	return created, nil
}

// Fail records a generation failure on a processing job.
func (q *Queue) Fail(ctx context.Context, jobID, message string) (domain.QueueJob, error) {
	job, err := q.store.FailJob(ctx, jobID, message, q.now())
	if err != nil {
		return domain.QueueJob{}, err
	}
	q.metrics.Transition(string(domain.EntityJob), string(domain.JobProcessing), string(domain.JobFailed))
	q.logger.Warn("job failed", "job_id", jobID, "article_id", job.ArticleID, "error", message)
	q.notifier.Notify(domain.Change{Entity: domain.EntityJob, ID: jobID, Op: domain.OpUpdated})
	return job, nil
}

// ReleaseStale fails every job that has been processing for at least
// olderThan, so an operator can reset or abandon it. A negative olderThan is
// refused.
func (q *Queue) ReleaseStale(ctx context.Context, olderThan time.Duration) ([]domain.QueueJob, error) {
	if olderThan < 0 {
		return nil, domain.Invalid(domain.EntityJob, "", "older_than must not be negative")
	}
	now := q.now()
	message := fmt.Sprintf("claim released after %s without an outcome", olderThan)
	jobs, err := q.store.FailStaleJobs(ctx, now.Add(-olderThan), message, now)
	if err != nil {
		return nil, err
	}
	changes := make([]domain.Change, 0, len(jobs))
	for _, job := range jobs {
		q.metrics.Transition(string(domain.EntityJob), string(domain.JobProcessing), string(domain.JobFailed))
		q.logger.Warn("stale claim released", "job_id", job.ID, "article_id", job.ArticleID, "worker", job.ClaimedBy)
		changes = append(changes, domain.Change{Entity: domain.EntityJob, ID: job.ID, Op: domain.OpUpdated})
	}
	if len(changes) > 0 {
		q.notifier.Notify(changes...)
	}
	return jobs, nil
}

// Reset returns a failed job to pending and counts the attempt.
func (q *Queue) Reset(ctx context.Context, jobID string) (domain.QueueJob, error) {
	job, err := q.store.ResetJob(ctx, jobID, q.maxAttempts, q.now())
	if err != nil {
		return domain.QueueJob{}, err
	}
	q.metrics.Transition(string(domain.EntityJob), string(domain.JobFailed), string(domain.JobPending))
	q.logger.Info("job reset", "job_id", jobID, "attempts", job.Attempts)
	q.notifier.Notify(domain.Change{Entity: domain.EntityJob, ID: jobID, Op: domain.OpUpdated})
	return job, nil
}

// List returns jobs in queue order, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status domain.JobStatus) ([]domain.QueueJob, error) {
	return q.store.ListJobs(ctx, status)
}
