package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/testutil"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (n *recordingNotifier) Notify(changes ...domain.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, changes...)
}

func (n *recordingNotifier) entities() []domain.EntityKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EntityKind, len(n.changes))
	for i, c := range n.changes {
		out[i] = c.Entity
	}
	return out
}

type fixture struct {
	store    *store.Store
	queue    *Queue
	clock    *testutil.ManualClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewManualClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	n := &recordingNotifier{}
	base := []Option{WithIDs(testutil.SequenceIDs("id")), WithClock(clock.Now), WithNotifier(n)}
	q := New(s, append(base, opts...)...)

	require.NoError(t, s.CreateSource(context.Background(), domain.Source{ID: "src-1", Name: "Gazette", IsActive: true, CreatedAt: clock.Now()}))
	return &fixture{store: s, queue: q, clock: clock, notifier: n}
}

// accept stores an article and runs it through intake accept, leaving one
// pending job.
func (f *fixture) accept(t *testing.T, articleID, body string) domain.QueueJob {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	require.NoError(t, f.store.InsertArticle(ctx, domain.Article{
		ID: articleID, SourceID: "src-1", Title: "Title " + articleID, Body: body,
		Status: domain.ArticleNew, ContentQualityScore: 90, RegionalRelevanceScore: 90,
		ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	out, err := f.store.ApplyIntake(ctx, articleID, intake.Result{Decision: intake.DecisionAccept}, "job-"+articleID, now)
	require.NoError(t, err)
	return *out.Job
}

func twoSlides() Draft {
	return Draft{Title: "Two", Slides: []domain.SlideDraft{
		{SlideNumber: 1, Content: "first slide text"},
		{SlideNumber: 2, Content: "second"},
	}}
}

func TestQueue_CompleteCreatesDraftStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.accept(t, "a1", "body")

	claimed, ok, err := f.queue.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, claimed.ID)

	story, err := f.queue.Complete(ctx, job.ID, twoSlides())
	require.NoError(t, err)
	assert.Equal(t, domain.StoryDraft, story.Status)
	assert.Equal(t, "a1", story.ArticleID)
	require.Len(t, story.Slides, 2)
	assert.Equal(t, 3, story.Slides[0].WordCount)

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)

	assert.Equal(t, []domain.EntityKind{
		domain.EntityJob, domain.EntityJob, domain.EntityStory, domain.EntityArticle,
	}, f.notifier.entities())
}

func TestQueue_CompleteRejectsInvalidSlides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.accept(t, "a1", "body")
	_, _, err := f.queue.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	cases := map[string]Draft{
		"empty":      {Title: "x"},
		"gap":        {Title: "x", Slides: []domain.SlideDraft{{SlideNumber: 1, Content: "a"}, {SlideNumber: 3, Content: "b"}}},
		"zero based": {Title: "x", Slides: []domain.SlideDraft{{SlideNumber: 0, Content: "a"}}},
		"blank":      {Title: "x", Slides: []domain.SlideDraft{{SlideNumber: 1, Content: "   "}}},
	}
	for name, draft := range cases {
		name, draft := name, draft
		t.Run(name, func(t *testing.T) {
			_, err := f.queue.Complete(ctx, job.ID, draft)
			assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
		})
	}

	got, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, got.Status, "invalid output never completes the job")
}

func TestQueue_ClaimNextEmpty(t *testing.T) {
	f := newFixture(t)

	_, ok, err := f.queue.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.notifier.entities())
}

func TestQueue_ConcurrentClaimNextIsExclusive(t *testing.T) {
	f := newFixture(t)
	f.accept(t, "a1", "body")

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, ok, err := f.queue.ClaimNext(context.Background(), fmt.Sprintf("w%d", i))
			assert.NoError(t, err)
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestQueue_ResetHonorsMaxAttempts(t *testing.T) {
	f := newFixture(t, WithMaxAttempts(1))
	ctx := context.Background()
	job := f.accept(t, "a1", "body")

	_, _, err := f.queue.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	_, err = f.queue.Fail(ctx, job.ID, "boom")
	require.NoError(t, err)

	reset, err := f.queue.Reset(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, reset.Status)
	assert.Equal(t, 1, reset.Attempts)

	_, _, err = f.queue.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	_, err = f.queue.Fail(ctx, job.ID, "boom again")
	require.NoError(t, err)

	_, err = f.queue.Reset(ctx, job.ID)
	assert.Equal(t, domain.CodeRetryExhausted, domain.CodeOf(err))
}

func TestQueue_ResetUnlimited(t *testing.T) {
	f := newFixture(t, WithMaxAttempts(0))
	ctx := context.Background()
	job := f.accept(t, "a1", "body")

	for i := 1; i <= 5; i++ {
		_, _, err := f.queue.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		_, err = f.queue.Fail(ctx, job.ID, "boom")
		require.NoError(t, err)
		reset, err := f.queue.Reset(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, i, reset.Attempts)
	}
}

func TestQueue_FailRequiresProcessing(t *testing.T) {
	f := newFixture(t)
	job := f.accept(t, "a1", "body")

	_, err := f.queue.Fail(context.Background(), job.ID, "boom")
	assert.True(t, domain.IsIllegalTransition(err))
}

func TestParagraphGenerator(t *testing.T) {
	gen := ParagraphGenerator{MaxSlides: 3}
	a := domain.Article{ID: "a1", Title: "Floods", Body: "One para.\n\n  Two\nlines here.  \n\n\n\nThree.\n\nFour.\n\nFive."}

	draft, err := gen.Generate(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "Floods", draft.Title)
	require.Len(t, draft.Slides, 3)
	assert.Equal(t, "One para.", draft.Slides[0].Content)
	assert.Equal(t, "Two lines here.", draft.Slides[1].Content)
	assert.Equal(t, "Three. Four. Five.", draft.Slides[2].Content)
	assert.NoError(t, domain.ValidateSlides(draft.Slides))
	assert.Contains(t, draft.Slides[0].VisualPrompt, "Floods")
}

func TestParagraphGenerator_EmptyBody(t *testing.T) {
	_, err := ParagraphGenerator{}.Generate(context.Background(), domain.Article{ID: "a1", Body: " \n\n "})
	assert.Error(t, err)
}

func TestProcessor_RunDrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		f.accept(t, fmt.Sprintf("a%d", i), "First paragraph.\n\nSecond paragraph.")
	}
	f.accept(t, "bad", "explode")

	gen := GeneratorFunc(func(ctx context.Context, a domain.Article) (Draft, error) {
		if strings.Contains(a.Body, "explode") {
			return Draft{}, errors.New("model unavailable")
		}
		return ParagraphGenerator{}.Generate(ctx, a)
	})

	summary, err := NewProcessor(f.queue, gen, 3, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Claimed)
	assert.Equal(t, 6, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, summary.StoryIDs, 6)

	failed, err := f.store.GetJob(ctx, "job-bad")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.Status)
	assert.Equal(t, "model unavailable", failed.LastError)

	pending, err := f.queue.List(ctx, domain.JobPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessor_InvalidGeneratorOutputFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accept(t, "a1", "body")

	gen := GeneratorFunc(func(context.Context, domain.Article) (Draft, error) {
		return Draft{Title: "x", Slides: []domain.SlideDraft{{SlideNumber: 2, Content: "skipped one"}}}, nil
	})
	summary, err := NewProcessor(f.queue, gen, 1, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	job, err := f.store.GetJob(ctx, "job-a1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "slide numbers must be contiguous from 1", job.LastError)
}

func TestProcessor_CancelledRunStillRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.accept(t, "a1", "First paragraph.")
	f.accept(t, "a2", "Second article.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := GeneratorFunc(func(ctx context.Context, a domain.Article) (Draft, error) {
		cancel()
		return Draft{}, ctx.Err()
	})

	summary, err := NewProcessor(f.queue, gen, 1, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Failed)

	bg := context.Background()
	job, err := f.store.GetJob(bg, "job-a1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, context.Canceled.Error(), job.LastError)

	untouched, err := f.store.GetJob(bg, "job-a2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, untouched.Status)

	processing, err := f.queue.List(bg, domain.JobProcessing)
	require.NoError(t, err)
	assert.Empty(t, processing)

	_, err = f.queue.Reset(bg, "job-a1")
	require.NoError(t, err)
	summary, err = NewProcessor(f.queue, ParagraphGenerator{}, 1, nil).Run(bg)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
}

func TestProcessor_CancelledRunKeepsGeneratedDraft(t *testing.T) {
	f := newFixture(t)
	f.accept(t, "a1", "body")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := GeneratorFunc(func(context.Context, domain.Article) (Draft, error) {
		cancel()
		return twoSlides(), nil
	})

	summary, err := NewProcessor(f.queue, gen, 1, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	require.Len(t, summary.StoryIDs, 1)

	job, err := f.store.GetJob(context.Background(), "job-a1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
}

func TestQueue_ReleaseStaleFailsOldClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accept(t, "a1", "body")
	f.accept(t, "a2", "body")
	f.accept(t, "a3", "body")

	old, ok, err := f.queue.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	f.clock.Advance(20 * time.Minute)
	fresh, ok, err := f.queue.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.True(t, ok)
	f.clock.Advance(5 * time.Minute)

	released, err := f.queue.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, old.ID, released[0].ID)
	assert.Equal(t, domain.JobFailed, released[0].Status)
	assert.Contains(t, released[0].LastError, "claim released")

	still, err := f.store.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, still.Status)

	pending, err := f.store.GetJob(ctx, "job-a3")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, pending.Status)

	reset, err := f.queue.Reset(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, reset.Status)

	released, err = f.queue.ReleaseStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestQueue_ReleaseStaleRejectsNegativeAge(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.ReleaseStale(context.Background(), -time.Second)
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}
