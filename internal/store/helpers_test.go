package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storydesk/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database in a temp dir and closes it when
// the test ends.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSource(t *testing.T, s *Store, id string) domain.Source {
	t.Helper()
	src := domain.Source{ID: id, Name: "Source " + id, URL: "https://" + id + ".example", IsActive: true, CreatedAt: testNow}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

func seedArticle(t *testing.T, s *Store, id string, mutate ...func(*domain.Article)) domain.Article {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetSource(ctx, "src-1"); domain.IsNotFound(err) {
		seedSource(t, s, "src-1")
	}
	a := domain.Article{
		ID:                     id,
		SourceID:               "src-1",
		Title:                  "Harbor expansion approved " + id,
		Body:                   "The council approved the harbor expansion after a long debate.",
		URL:                    "https://news.example/" + id,
		Status:                 domain.ArticleNew,
		RegionalRelevanceScore: 80,
		ContentQualityScore:    80,
		ScrapedAt:              testNow,
		CreatedAt:              testNow,
		UpdatedAt:              testNow,
	}
	for _, m := range mutate {
		m(&a)
	}
	require.NoError(t, s.InsertArticle(ctx, a))
	return a
}

// seedAcceptedJob inserts an article and moves it through intake accept.
func seedAcceptedJob(t *testing.T, s *Store, articleID string) domain.QueueJob {
	t.Helper()
	seedArticle(t, s, articleID)
	out, err := s.ApplyIntake(context.Background(), articleID, acceptResult(), "job-"+articleID, testNow)
	require.NoError(t, err)
	require.NotNil(t, out.Job)
	return *out.Job
}

func testStory(articleID string, slides int) domain.Story {
	story := domain.Story{ID: "story-" + articleID, ArticleID: articleID, Title: "Story " + articleID}
	for i := 1; i <= slides; i++ {
		story.Slides = append(story.Slides, domain.Slide{
			ID:          fmt.Sprintf("slide-%s-%d", articleID, i),
			StoryID:     story.ID,
			SlideNumber: i,
			Content:     fmt.Sprintf("slide %d of the story", i),
		})
	}
	return story
}

// seedStory claims and completes a job so a draft story with slides exists.
func seedStory(t *testing.T, s *Store, articleID string, slides int) domain.Story {
	t.Helper()
	ctx := context.Background()
	job := seedAcceptedJob(t, s, articleID)
	claimed, ok, err := s.ClaimNextJob(ctx, "w1", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, claimed.ID)

	story, err := s.CompleteJob(ctx, job.ID, testStory(articleID, slides), testNow)
	require.NoError(t, err)
	return story
}
