package desk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/health"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/queue"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/testutil"
)

type fixture struct {
	svc   *Service
	store *store.Store
	clock *testutil.ManualClock
}

func newFixture(t *testing.T, scraper Scraper) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewManualClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	svc := New(Config{
		Store:       s,
		MaxAttempts: 3,
		Workers:     2,
		Scraper:     scraper,
		IDs:         testutil.SequenceIDs("id"),
		Now:         clock.Now,
	})
	return &fixture{svc: svc, store: s, clock: clock}
}

func score(n int) *int { return &n }

func candidate(sourceID, title string, quality, relevance int) intake.Candidate {
	return intake.Candidate{
		Title:                  title,
		Body:                   "The council met on Monday.\n\nIt voted to fund the bridge.",
		SourceID:               sourceID,
		ContentQualityScore:    score(quality),
		RegionalRelevanceScore: score(relevance),
	}
}

func TestIngest_AcceptThenProcessIntoDraft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Daily Herald", "https://herald.example")
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, candidate(src.ID, "Bridge funding approved", 80, 90))
	require.NoError(t, err)
	assert.Equal(t, intake.DecisionAccept, res.Decision.Decision)
	assert.Equal(t, domain.ArticleProcessing, res.Article.Status)
	require.NotNil(t, res.Job)
	assert.Equal(t, domain.JobPending, res.Job.Status)

	summary, err := f.svc.TriggerQueueProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	require.Len(t, summary.StoryIDs, 1)

	st, err := f.svc.Stories().Get(ctx, summary.StoryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StoryDraft, st.Status)
	assert.Len(t, st.Slides, 2)

	out, err := f.svc.Stories().Approve(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoryReady, out.To)

	a, err := f.svc.GetArticle(ctx, res.Article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleProcessed, a.Status)
}

func TestIngest_RejectsMalformedCandidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, intake.Candidate{Body: "text", SourceID: src.ID})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
	assert.Equal(t, "article title is required", domain.Reason(err))

	_, err = f.svc.Ingest(ctx, candidate(src.ID, "Title", 120, 50))
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))

	_, err = f.svc.Ingest(ctx, candidate("missing", "Title", 80, 80))
	assert.True(t, domain.IsNotFound(err))

	articles, err := f.svc.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	assert.Empty(t, articles, "malformed input never reaches the store")
}

func TestIngest_DiscardsLowScoresAndDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	low, err := f.svc.Ingest(ctx, candidate(src.ID, "Weak story", 20, 90))
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleDiscarded, low.Article.Status)
	assert.Equal(t, domain.ReasonInsufficientQuality, low.Article.RejectionReason)

	first, err := f.svc.Ingest(ctx, candidate(src.ID, "Bridge funding approved", 80, 80))
	require.NoError(t, err)
	dup, err := f.svc.Ingest(ctx, candidate(src.ID, "BRIDGE funding approved!", 80, 80))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDuplicate, dup.Article.RejectionReason)
	assert.Equal(t, first.Article.ID, dup.Decision.DuplicateOf)
}

func TestRestoreArticle_Reclassifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	low, err := f.svc.Ingest(ctx, candidate(src.ID, "Weak story", 20, 90))
	require.NoError(t, err)
	again, err := f.svc.RestoreArticle(ctx, low.Article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleDiscarded, again.Article.Status, "thresholds still apply after restore")

	held, err := f.svc.Ingest(ctx, candidate(src.ID, "Good story", 90, 90))
	require.NoError(t, err)
	require.Equal(t, domain.ArticleProcessing, held.Article.Status)
	_, err = f.svc.RestoreArticle(ctx, held.Article.ID)
	assert.Equal(t, domain.CodeAlreadyInProgress, domain.CodeOf(err), "a pending job blocks restore")
}

func TestRetryExhaustedArticleCanBeRestoredOrDiscarded(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clock := testutil.NewManualClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))

	var broken atomic.Bool
	broken.Store(true)
	gen := queue.GeneratorFunc(func(ctx context.Context, a domain.Article) (queue.Draft, error) {
		if broken.Load() {
			return queue.Draft{}, errors.New("model unavailable")
		}
		return queue.ParagraphGenerator{}.Generate(ctx, a)
	})
	svc := New(Config{Store: s, MaxAttempts: 1, Generator: gen, IDs: testutil.SequenceIDs("id"), Now: clock.Now})
	ctx := context.Background()

	src, err := svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)
	harbor, err := svc.Ingest(ctx, candidate(src.ID, "Harbor dredging begins", 80, 90))
	require.NoError(t, err)
	school, err := svc.Ingest(ctx, candidate(src.ID, "School budget passes", 80, 90))
	require.NoError(t, err)

	summary, err := svc.TriggerQueueProcessing(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Failed)

	_, err = svc.Queue().Reset(ctx, harbor.Job.ID)
	require.NoError(t, err)
	_, err = svc.TriggerQueueProcessing(ctx)
	require.NoError(t, err)
	_, err = svc.Queue().Reset(ctx, harbor.Job.ID)
	require.Equal(t, domain.CodeRetryExhausted, domain.CodeOf(err))

	broken.Store(false)
	restored, err := svc.RestoreArticle(ctx, harbor.Article.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.DecisionAccept, restored.Decision.Decision)
	require.NotNil(t, restored.Job)
	assert.NotEqual(t, harbor.Job.ID, restored.Job.ID)
	_, err = s.GetJob(ctx, harbor.Job.ID)
	assert.True(t, domain.IsNotFound(err), "the exhausted job is abandoned")

	summary, err = svc.TriggerQueueProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	discarded, err := svc.DiscardArticle(ctx, school.Article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleDiscarded, discarded.Status)
	assert.Equal(t, domain.ReasonManual, discarded.RejectionReason)
	_, err = s.GetJob(ctx, school.Job.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestDiscardArticle_ManualThenRestore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	a := domain.Article{
		ID: "a-held", SourceID: src.ID, Title: "Held", Body: "Body text.",
		Status: domain.ArticleNew, RegionalRelevanceScore: 90, ContentQualityScore: 90,
		ScrapedAt: f.clock.Now(), CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.InsertArticle(ctx, a))

	got, err := f.svc.DiscardArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonManual, got.RejectionReason)

	_, err = f.svc.DiscardArticle(ctx, a.ID)
	require.NoError(t, err, "discarding twice is a no-op")

	restored, err := f.svc.RestoreArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, intake.DecisionAccept, restored.Decision.Decision)
	assert.Equal(t, domain.ArticleProcessing, restored.Article.Status)
}

func TestBulkDiscard_PreviewMatchesApply(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	for i, title := range []string{"Weather warning", "Weather update", "Election night"} {
		a := domain.Article{
			ID: string(rune('a' + i)), SourceID: src.ID, Title: title, Body: "b",
			Status: domain.ArticleNew, ScrapedAt: f.clock.Now(), CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
		}
		require.NoError(t, f.store.InsertArticle(ctx, a))
	}

	filter := intake.BulkFilter{Keywords: []string{"weather"}}
	n, err := f.svc.PreviewBulkDiscard(ctx, filter)
	require.NoError(t, err)
	res, err := f.svc.ApplyBulkDiscard(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, n, res.Count)

	n, err = f.svc.PreviewBulkDiscard(ctx, intake.BulkFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordScrapeRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	got, err := f.svc.RecordScrapeRun(ctx, src.ID, RunResult{ArticlesFound: 6, ArticlesStored: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, got.ArticlesScraped)
	assert.Equal(t, 100.0, got.SuccessRate)

	got, err = f.svc.RecordScrapeRun(ctx, src.ID, RunResult{Errors: []string{"timeout"}})
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.SuccessRate)
	assert.Equal(t, "timeout", got.LastError)

	_, err = f.svc.RecordScrapeRun(ctx, src.ID, RunResult{ArticlesStored: -1})
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}

func TestTriggerManualScrape_IngestsAndRecords(t *testing.T) {
	scraper := ScraperFunc(func(_ context.Context, src domain.Source) ([]intake.Candidate, error) {
		return []intake.Candidate{
			candidate("", "Bridge funding approved", 80, 80),
			candidate("", "Bridge funding approved", 80, 80),
			candidate("", "Weak story", 10, 10),
			{SourceID: src.ID, Body: "no title"},
		}, nil
	})
	f := newFixture(t, scraper)
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	report, err := f.svc.TriggerManualScrape(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, report.ArticlesFound)
	assert.Equal(t, 3, report.ArticlesStored)
	assert.Equal(t, 2, report.ArticlesDiscarded)
	assert.Equal(t, 1, report.DuplicatesDetected)
	assert.Equal(t, []string{"candidate 4: article title is required"}, report.Errors)
	assert.Equal(t, 3, report.Source.ArticlesScraped)
	assert.Equal(t, "candidate 4: article title is required", report.Source.LastError)
	assert.False(t, f.svc.Gathering(src.ID))
}

func TestTriggerManualScrape_RefusesInactiveAndConcurrent(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	scraper := ScraperFunc(func(context.Context, domain.Source) ([]intake.Candidate, error) {
		close(started)
		<-release
		return nil, nil
	})
	f := newFixture(t, scraper)
	ctx := context.Background()

	idle, err := f.svc.RegisterSource(ctx, "Idle", "")
	require.NoError(t, err)
	_, err = f.svc.SetSourceActive(ctx, idle.ID, false)
	require.NoError(t, err)
	_, err = f.svc.TriggerManualScrape(ctx, idle.ID)
	assert.Equal(t, domain.CodePreconditionFailed, domain.CodeOf(err))

	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		_, err := f.svc.TriggerManualScrape(ctx, src.ID)
		errCh <- err
	}()
	<-started

	assert.True(t, f.svc.Gathering(src.ID))
	assert.Equal(t, []string{src.ID}, f.svc.GatheringSources())
	report, err := f.svc.SourceHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[health.TierGathering])

	_, err = f.svc.TriggerManualScrape(ctx, src.ID)
	assert.True(t, domain.IsAlreadyInProgress(err))

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, f.svc.Gathering(src.ID))
}

func TestTriggerManualScrape_ScraperFailureIsRecorded(t *testing.T) {
	boom := errors.New("connection refused")
	f := newFixture(t, ScraperFunc(func(context.Context, domain.Source) ([]intake.Candidate, error) {
		return nil, boom
	}))
	ctx := context.Background()
	src, err := f.svc.RegisterSource(ctx, "Herald", "")
	require.NoError(t, err)

	report, err := f.svc.TriggerManualScrape(ctx, src.ID)
	assert.Equal(t, domain.CodeCollaboratorFailed, domain.CodeOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "connection refused", report.Source.LastError)
	assert.Equal(t, 0.0, report.Source.SuccessRate)
	assert.Equal(t, 1, report.Source.ScrapeRuns)
}

func TestFileScraper(t *testing.T) {
	dir := t.TempDir()
	data := `
- title: Ferry timetable changes
  body: "<p>New times from June.</p><p>Weekend sailings added.</p>"
  url: https://harbour.example/ferry
  content_quality_score: 75
  regional_relevance_score: 88
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src-harbour.yaml"), []byte(data), 0o644))

	got, err := FileScraper{Dir: dir}.Scrape(context.Background(), domain.Source{ID: "src-harbour"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ferry timetable changes", got[0].Title)
	require.NotNil(t, got[0].ContentQualityScore)
	assert.Equal(t, 75, *got[0].ContentQualityScore)

	_, err = FileScraper{Dir: dir}.Scrape(context.Background(), domain.Source{ID: "missing"})
	assert.Error(t, err)
}

func TestRegisterSource_RequiresName(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.RegisterSource(context.Background(), "  ", "https://x.example")
	assert.Equal(t, domain.CodeInvalidInput, domain.CodeOf(err))
}
