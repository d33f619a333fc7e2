package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/storydesk/internal/domain"
)

// RunSummary tallies one processing pass.
type RunSummary struct {
	Claimed   int      `json:"claimed"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	StoryIDs  []string `json:"story_ids"`
}

// Processor drains the queue with a fixed pool of workers.
type Processor struct {
	queue   *Queue
	gen     StoryGenerator
	workers int
	logger  *slog.Logger
}

// NewProcessor creates a Processor. workers below 1 means one worker.
func NewProcessor(q *Queue, gen StoryGenerator, workers int, logger *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{queue: q, gen: gen, workers: workers, logger: logger.With("component", "processor")}
}

// Run claims and processes jobs until none are pending or ctx is done.
// Generator failures and invalid output fail the job and processing
// continues; storage errors stop the worker that hit them and are joined
// into the returned error.
func (p *Processor) Run(ctx context.Context) (RunSummary, error) {
	var (
		mu      sync.Mutex
		summary = RunSummary{StoryIDs: []string{}}
		errs    []error
		wg      sync.WaitGroup
	)

	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		worker := fmt.Sprintf("worker-%d", i+1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				job, ok, err := p.queue.ClaimNext(ctx, worker)
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if !ok {
					return
				}

				storyID, failed, err := p.process(ctx, job)
				mu.Lock()
				summary.Claimed++
				switch {
				case err != nil:
					errs = append(errs, err)
				case failed:
					summary.Failed++
				default:
					summary.Completed++
					summary.StoryIDs = append(summary.StoryIDs, storyID)
				}
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	p.logger.Info("queue pass finished",
		"claimed", summary.Claimed, "completed", summary.Completed, "failed", summary.Failed)
	return summary, errors.Join(errs...)
}

// process runs one claimed job. failed reports the job was marked failed;
// err is reserved for storage failures. Only the generator sees ctx: once a
// job is claimed its outcome is written even if the run is cancelled, so no
// job is left in processing.
func (p *Processor) process(ctx context.Context, job domain.QueueJob) (storyID string, failed bool, err error) {
	wctx := context.WithoutCancel(ctx)
	article, err := p.queue.store.GetArticle(wctx, job.ArticleID)
	if err != nil {
		return "", false, err
	}

	draft, genErr := p.gen.Generate(ctx, article)
	if genErr != nil {
		p.logger.Warn("generator failed", "job_id", job.ID, "article_id", job.ArticleID, "error", genErr)
		return "", true, p.fail(wctx, job.ID, genErr.Error())
	}

	story, err := p.queue.Complete(wctx, job.ID, draft)
	var de *domain.Error
	if errors.As(err, &de) && de.Code == domain.CodeInvalidInput {
		return "", true, p.fail(wctx, job.ID, de.Reason)
	}
	if err != nil {
		return "", false, err
	}
	return story.ID, false, nil
}

func (p *Processor) fail(ctx context.Context, jobID, message string) error {
	_, err := p.queue.Fail(ctx, jobID, message)
	return err
}
