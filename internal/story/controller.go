// Package story owns the review state machine for stories.
//
//	draft     --approve-->          ready (or published with auto-publish)
//	draft     --reject-->           deleted (cascade)
//	ready     --publish-->          published
//	ready     --reject-->           rejected
//	published --reject-->           rejected
//	ready, published, rejected --return_to_review--> draft
//	any       --delete-->           deleted (cascade)
//
// Repeating approve, reject, publish, return-to-review or delete on a story
// already in the target state is a no-op, not an error.
package story

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/store"
)

// Outcome describes what a lifecycle action did.
type Outcome struct {
	StoryID string             `json:"story_id"`
	Action  string             `json:"action"`
	From    domain.StoryStatus `json:"from,omitempty"`
	To      domain.StoryStatus `json:"to,omitempty"`
	NoOp    bool               `json:"no_op"`
	Deleted bool               `json:"deleted"`

	// Cascade is set for actions that removed the story.
	Cascade *store.CascadeReport `json:"cascade,omitempty"`
}

// Controller applies story lifecycle actions.
type Controller struct {
	store       *store.Store
	now         func() time.Time
	notifier    domain.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	autoPublish bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithNotifier sets where committed changes are announced.
func WithNotifier(n domain.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithAutoPublish makes approve go straight to published.
func WithAutoPublish(on bool) Option {
	return func(c *Controller) { c.autoPublish = on }
}

// New creates a Controller over s.
func New(s *store.Store, opts ...Option) *Controller {
	c := &Controller{
		store:    s,
		now:      time.Now,
		notifier: domain.NopNotifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "story")
	return c
}

// Get returns a story with its slides.
func (c *Controller) Get(ctx context.Context, id string) (domain.Story, error) {
	return c.store.GetStory(ctx, id)
}

// List returns stories, optionally filtered by status.
func (c *Controller) List(ctx context.Context, status domain.StoryStatus) ([]domain.Story, error) {
	return c.store.ListStories(ctx, status)
}

// Approve moves a draft to ready, or to published when auto-publish is on.
// The story must have at least one slide.
func (c *Controller) Approve(ctx context.Context, id string) (Outcome, error) {
	target := domain.StoryReady
	if c.autoPublish {
		target = domain.StoryPublished
	}
	return c.transition(ctx, id, "approve",
		[]domain.StoryStatus{domain.StoryDraft},
		[]domain.StoryStatus{domain.StoryReady, domain.StoryPublished},
		target, true)
}

// Publish moves a ready story to published.
func (c *Controller) Publish(ctx context.Context, id string) (Outcome, error) {
	return c.transition(ctx, id, "publish",
		[]domain.StoryStatus{domain.StoryReady},
		[]domain.StoryStatus{domain.StoryPublished},
		domain.StoryPublished, true)
}

// ReturnToReview sends a ready, published or rejected story back to draft.
func (c *Controller) ReturnToReview(ctx context.Context, id string) (Outcome, error) {
	return c.transition(ctx, id, "return to review",
		[]domain.StoryStatus{domain.StoryReady, domain.StoryPublished, domain.StoryRejected},
		[]domain.StoryStatus{domain.StoryDraft},
		domain.StoryDraft, false)
}

// Reject deletes a draft outright and retains a ready or published story
// as rejected. Rejecting a story that no longer exists is a no-op, since
// the first reject of a draft removed it.
func (c *Controller) Reject(ctx context.Context, id string) (Outcome, error) {
	s, err := c.store.GetStory(ctx, id)
	if domain.IsNotFound(err) {
		c.logger.Debug("reject of missing story ignored", "story_id", id)
		return Outcome{StoryID: id, Action: "reject", NoOp: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if s.Status == domain.StoryDraft {
		out, err := c.cascade(ctx, id, "reject")
		out.From = domain.StoryDraft
		return out, err
	}
	return c.transition(ctx, id, "reject",
		[]domain.StoryStatus{domain.StoryReady, domain.StoryPublished},
		[]domain.StoryStatus{domain.StoryRejected},
		domain.StoryRejected, false)
}

// Delete removes a story in any status with its slides, export and queue
// jobs, and resets its article to new. Deleting a missing story is a no-op.
func (c *Controller) Delete(ctx context.Context, id string) (Outcome, error) {
	s, err := c.store.GetStory(ctx, id)
	if domain.IsNotFound(err) {
		c.logger.Debug("delete of missing story ignored", "story_id", id)
		return Outcome{StoryID: id, Action: "delete", NoOp: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	out, err := c.cascade(ctx, id, "delete")
	out.From = s.Status
	return out, err
}

// EditSlide replaces one slide's content. Word count is recomputed in the
// same write.
func (c *Controller) EditSlide(ctx context.Context, storyID string, slideNumber int, content string) (domain.Slide, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Slide{}, domain.Invalid(domain.EntitySlide, fmt.Sprintf("%s#%d", storyID, slideNumber), "slide content must not be blank")
	}
	if _, err := c.store.GetStory(ctx, storyID); err != nil {
		return domain.Slide{}, err
	}
	sl, err := c.store.UpdateSlideContent(ctx, storyID, slideNumber, content, c.now())
	if err != nil {
		return domain.Slide{}, err
	}
	c.logger.Info("slide edited", "story_id", storyID, "slide_number", slideNumber, "word_count", sl.WordCount)
	c.notifier.Notify(domain.Change{Entity: domain.EntityStory, ID: storyID, Op: domain.OpUpdated})
	return sl, nil
}

// transition applies a guarded status change. A story already in one of done
// is a no-op; a story outside from is an illegal transition.
func (c *Controller) transition(ctx context.Context, id, action string, from, done []domain.StoryStatus, to domain.StoryStatus, requireSlides bool) (Outcome, error) {
	s, err := c.store.GetStory(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{StoryID: id, Action: action, From: s.Status, To: to}

	if slices.Contains(done, s.Status) {
		out.To = s.Status
		out.NoOp = true
		c.logger.Debug("story transition is a no-op", "story_id", id, "action", action, "status", s.Status)
		return out, nil
	}
	if !slices.Contains(from, s.Status) {
		return Outcome{}, domain.IllegalTransition(domain.EntityStory, id, action, s.Status)
	}
	if requireSlides && len(s.Slides) == 0 {
		return Outcome{}, domain.PreconditionFailed(domain.EntityStory, id, "a story needs at least one slide before it can be "+pastTense(action))
	}

	updated, err := c.store.UpdateStoryStatus(ctx, id, from, to, requireSlides, c.now())
	if err != nil {
		return Outcome{}, err
	}
	if !updated {
		// Lost a race; decide from what the winner left behind.
		cur, err := c.store.GetStory(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		if slices.Contains(done, cur.Status) {
			out.To = cur.Status
			out.NoOp = true
			return out, nil
		}
		return Outcome{}, domain.IllegalTransition(domain.EntityStory, id, action, cur.Status)
	}

	c.metrics.Transition(string(domain.EntityStory), string(s.Status), string(to))
	c.logger.Info("story transitioned", "story_id", id, "article_id", s.ArticleID, "from", s.Status, "to", to)
	c.notifier.Notify(domain.Change{Entity: domain.EntityStory, ID: id, Op: domain.OpUpdated})
	return out, nil
}

func (c *Controller) cascade(ctx context.Context, id, action string) (Outcome, error) {
	report, err := c.store.DeleteStoryCascade(ctx, id, c.now())
	out := Outcome{StoryID: id, Action: action, Cascade: &report}
	if domain.IsNotFound(err) {
		out.NoOp = true
		out.Cascade = nil
		return out, nil
	}
	if err != nil {
		c.logger.Error("story cascade failed", "story_id", id, "article_id", report.ArticleID, "failed_step", report.FailedStep, "error", err)
		return out, &domain.Error{
			Code:   domain.CodeStorageFailed,
			Entity: domain.EntityStory,
			ID:     id,
			Reason: fmt.Sprintf("could not remove the story's %s; nothing was changed", report.FailedStep),
			Err:    err,
		}
	}

	out.Deleted = true
	c.metrics.Transition(string(domain.EntityArticle), string(domain.ArticleProcessed), string(domain.ArticleNew))
	c.logger.Info("story deleted", "story_id", id, "article_id", report.ArticleID,
		"slides", report.SlidesRemoved, "exports", report.ExportsRemoved, "jobs", report.JobsRemoved)

	// Dependents have no identity of their own once gone; the story's
	// deletion stands in for them.
	c.notifier.Notify(
		domain.Change{Entity: domain.EntityStory, ID: id, Op: domain.OpDeleted},
		domain.Change{Entity: domain.EntityArticle, ID: report.ArticleID, Op: domain.OpUpdated},
	)
	return out, nil
}

func pastTense(action string) string {
	switch action {
	case "approve":
		return "approved"
	case "publish":
		return "published"
	}
	return action
}
