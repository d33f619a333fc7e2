package story

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/testutil"
)

type fixture struct {
	store *store.Store
	ctrl  *Controller
	clock *testutil.ManualClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "story.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewManualClock(time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.CreateSource(context.Background(), domain.Source{ID: "src-1", Name: "Gazette", IsActive: true, CreatedAt: clock.Now()}))
	return &fixture{store: s, ctrl: New(s, append([]Option{WithClock(clock.Now)}, opts...)...), clock: clock}
}

// draft creates a draft story with n slides through the real intake and
// queue path in the store.
func (f *fixture) draft(t *testing.T, articleID string, n int) domain.Story {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	require.NoError(t, f.store.InsertArticle(ctx, domain.Article{
		ID: articleID, SourceID: "src-1", Title: "Title", Body: "Body",
		Status: domain.ArticleNew, ContentQualityScore: 90, RegionalRelevanceScore: 90,
		ScrapedAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	_, err := f.store.ApplyIntake(ctx, articleID, intake.Result{Decision: intake.DecisionAccept}, "job-"+articleID, now)
	require.NoError(t, err)
	_, _, err = f.store.ClaimNextJob(ctx, "w1", now)
	require.NoError(t, err)

	s := domain.Story{ID: "story-" + articleID, ArticleID: articleID, Title: "Story"}
	for i := 1; i <= n; i++ {
		s.Slides = append(s.Slides, domain.Slide{
			ID: s.ID + "-slide-" + string(rune('0'+i)), StoryID: s.ID, SlideNumber: i, Content: "some slide words",
		})
	}
	story, err := f.store.CompleteJob(ctx, "job-"+articleID, s, now)
	require.NoError(t, err)
	return story
}

func (f *fixture) status(t *testing.T, id string) domain.StoryStatus {
	t.Helper()
	s, err := f.ctrl.Get(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func TestApprove_DraftToReady(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 2)

	out, err := f.ctrl.Approve(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, Outcome{StoryID: s.ID, Action: "approve", From: domain.StoryDraft, To: domain.StoryReady}, out)
	assert.Equal(t, domain.StoryReady, f.status(t, s.ID))
}

func TestApprove_SecondApproveIsNoOp(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 2)
	ctx := context.Background()

	_, err := f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)
	out, err := f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, out.NoOp)
	assert.Equal(t, domain.StoryReady, out.To)
}

func TestApprove_AutoPublish(t *testing.T) {
	f := newFixture(t, WithAutoPublish(true))
	s := f.draft(t, "a1", 1)

	out, err := f.ctrl.Approve(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryPublished, out.To)
	assert.Equal(t, domain.StoryPublished, f.status(t, s.ID))
}

func TestApprove_RequiresSlides(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 1)
	_, err := f.store.DB().Exec(`DELETE FROM slides WHERE story_id = ?`, s.ID)
	require.NoError(t, err)

	_, err = f.ctrl.Approve(context.Background(), s.ID)
	assert.Equal(t, domain.CodePreconditionFailed, domain.CodeOf(err))
	assert.Equal(t, "a story needs at least one slide before it can be approved", domain.Reason(err))
	assert.Equal(t, domain.StoryDraft, f.status(t, s.ID))
}

func TestApprove_MissingStory(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Approve(context.Background(), "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestApprove_RejectedIsIllegal(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 1)
	ctx := context.Background()
	_, err := f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Reject(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.ctrl.Approve(ctx, s.ID)
	assert.True(t, domain.IsIllegalTransition(err))
	assert.Equal(t, "cannot approve a story in status rejected", domain.Reason(err))
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 1)
	ctx := context.Background()

	_, err := f.ctrl.Publish(ctx, s.ID)
	assert.True(t, domain.IsIllegalTransition(err), "drafts must be approved first")

	_, err = f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)
	out, err := f.ctrl.Publish(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryReady, out.From)
	assert.Equal(t, domain.StoryPublished, out.To)

	out, err = f.ctrl.Publish(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, out.NoOp)
}

func TestReturnToReview(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, f *fixture, id string)
	}{
		{"from ready", func(t *testing.T, f *fixture, id string) {
			_, err := f.ctrl.Approve(context.Background(), id)
			require.NoError(t, err)
		}},
		{"from published", func(t *testing.T, f *fixture, id string) {
			_, err := f.ctrl.Approve(context.Background(), id)
			require.NoError(t, err)
			_, err = f.ctrl.Publish(context.Background(), id)
			require.NoError(t, err)
		}},
		{"from rejected", func(t *testing.T, f *fixture, id string) {
			_, err := f.ctrl.Approve(context.Background(), id)
			require.NoError(t, err)
			_, err = f.ctrl.Reject(context.Background(), id)
			require.NoError(t, err)
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.draft(t, "a1", 1)
			tc.setup(t, f, s.ID)

			out, err := f.ctrl.ReturnToReview(context.Background(), s.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StoryDraft, out.To)
			assert.False(t, out.NoOp)
			assert.Equal(t, domain.StoryDraft, f.status(t, s.ID))
		})
	}
}

func TestReturnToReview_DraftIsNoOp(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 1)

	out, err := f.ctrl.ReturnToReview(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, out.NoOp)
}

func TestReject_DraftIsDeletedAndArticleFreed(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 3)
	ctx := context.Background()

	out, err := f.ctrl.Reject(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, out.Deleted)
	require.NotNil(t, out.Cascade)
	assert.Equal(t, 3, out.Cascade.SlidesRemoved)

	_, err = f.ctrl.Get(ctx, s.ID)
	assert.True(t, domain.IsNotFound(err))
	a, err := f.store.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleNew, a.Status)

	again, err := f.ctrl.Reject(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, again.NoOp, "double reject is idempotent")
}

func TestReject_ReadyIsRetained(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 1)
	ctx := context.Background()
	_, err := f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)

	out, err := f.ctrl.Reject(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, out.Deleted)
	assert.Equal(t, domain.StoryRejected, f.status(t, s.ID))

	out, err = f.ctrl.Reject(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, out.NoOp)
}

func TestDelete_PublishedWithExportCascades(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 5)
	ctx := context.Background()
	_, err := f.ctrl.Approve(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.ctrl.Publish(ctx, s.ID)
	require.NoError(t, err)
	exp, err := f.store.StartExport(ctx, s.ID, "exp-1", f.clock.Now())
	require.NoError(t, err)
	_, err = f.store.CompleteExport(ctx, exp.ID, []string{"1.png"}, f.clock.Now())
	require.NoError(t, err)

	out, err := f.ctrl.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryPublished, out.From)
	require.NotNil(t, out.Cascade)
	assert.Equal(t, 5, out.Cascade.SlidesRemoved)
	assert.Equal(t, 1, out.Cascade.ExportsRemoved)
	assert.True(t, out.Cascade.ArticleReset)

	var slides, exports int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM slides`).Scan(&slides))
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM asset_exports`).Scan(&exports))
	assert.Zero(t, slides)
	assert.Zero(t, exports)

	a, _, err := f.store.RestoreArticle(ctx, "a1", f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleNew, a.Status)

	again, err := f.ctrl.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
}

func TestEditSlide_RecomputesWordCount(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, "a1", 2)
	ctx := context.Background()

	sl, err := f.ctrl.EditSlide(ctx, s.ID, 1, "one two three")
	require.NoError(t, err)
	assert.Equal(t, 3, sl.WordCount)

	sl, err = f.ctrl.EditSlide(ctx, s.ID, 1, "one two three")
	require.NoError(t, err)
	assert.Equal(t, 3, sl.WordCount, "re-saving identical content is idempotent")

	_, err = f.ctrl.EditSlide(ctx, s.ID, 1, "   ")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	_, err = f.ctrl.EditSlide(ctx, "missing", 1, "text")
	assert.True(t, domain.IsNotFound(err))
	_, err = f.ctrl.EditSlide(ctx, s.ID, 7, "text")
	assert.True(t, domain.IsNotFound(err))
}

func TestList_FiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.draft(t, "a1", 1)
	f.draft(t, "a2", 1)
	_, err := f.ctrl.Approve(ctx, a.ID)
	require.NoError(t, err)

	ready, err := f.ctrl.List(ctx, domain.StoryReady)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	all, err := f.ctrl.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
