package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/storydesk/internal/domain"
)

const storyColumns = `id, article_id, title, status, created_at, updated_at`

const slideColumns = `id, story_id, slide_number, content, visual_prompt, word_count`

func insertStory(ctx context.Context, tx *sql.Tx, story domain.Story) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stories (`+storyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		story.ID,
		story.ArticleID,
		story.Title,
		string(story.Status),
		formatTime(story.CreatedAt),
		formatTime(story.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.PreconditionFailed(domain.EntityStory, story.ID, "the article already has a story")
	}
	if err != nil {
		return fmt.Errorf("write story: %w", err)
	}

	for _, sl := range story.Slides {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO slides (`+slideColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sl.ID,
			story.ID,
			sl.SlideNumber,
			sl.Content,
			sl.VisualPrompt,
			domain.WordCount(sl.Content),
		)
		if err != nil {
			return fmt.Errorf("write slide %d: %w", sl.SlideNumber, err)
		}
	}
	return nil
}

// GetStory retrieves a story with its slides in slide order.
func (s *Store) GetStory(ctx context.Context, id string) (domain.Story, error) {
	return getStory(ctx, s.db, id)
}

func getStory(ctx context.Context, q queryer, id string) (domain.Story, error) {
	story, err := scanStory(q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Story{}, domain.NotFound(domain.EntityStory, id)
	}
	if err != nil {
		return domain.Story{}, err
	}
	story.Slides, err = listSlides(ctx, q, id)
	if err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// GetStoryByArticle returns the story derived from an article, if any.
func (s *Store) GetStoryByArticle(ctx context.Context, articleID string) (domain.Story, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM stories WHERE article_id = ?`, articleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Story{}, false, nil
	}
	if err != nil {
		return domain.Story{}, false, fmt.Errorf("query story by article: %w", err)
	}
	story, err := s.GetStory(ctx, id)
	if err != nil {
		return domain.Story{}, false, err
	}
	return story, true, nil
}

// ListStories returns stories without slides, optionally filtered by status.
func (s *Store) ListStories(ctx context.Context, status domain.StoryStatus) ([]domain.Story, error) {
	b := psql.Select(storyColumns).From("stories").OrderBy("created_at ASC", "id ASC")
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select stories: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	stories := []domain.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

// UpdateStoryStatus moves a story to `to` only if it is currently in one of
// from. With requireSlides the story must also have at least one slide.
// updated is false when the guard did not hold; the caller re-reads to tell
// a no-op from a conflict.
func (s *Store) UpdateStoryStatus(ctx context.Context, id string, from []domain.StoryStatus, to domain.StoryStatus, requireSlides bool, now time.Time) (updated bool, err error) {
	fromVals := make([]string, len(from))
	for i, f := range from {
		fromVals[i] = string(f)
	}
	b := psql.Update("stories").
		Set("status", string(to)).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": id, "status": fromVals})
	if requireSlides {
		b = b.Where("EXISTS (SELECT 1 FROM slides WHERE slides.story_id = stories.id)")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update story: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update story status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update story status: rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateSlideContent replaces a slide's content and its word count in one
// statement, so the two are never independently stale.
func (s *Store) UpdateSlideContent(ctx context.Context, storyID string, slideNumber int, content string, now time.Time) (domain.Slide, error) {
	var out domain.Slide
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE slides SET content = ?, word_count = ?
			WHERE story_id = ? AND slide_number = ?
		`, content, domain.WordCount(content), storyID, slideNumber)
		if err != nil {
			return fmt.Errorf("update slide: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(domain.EntitySlide, fmt.Sprintf("%s#%d", storyID, slideNumber))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE stories SET updated_at = ? WHERE id = ?`, formatTime(now), storyID); err != nil {
			return fmt.Errorf("touch story: %w", err)
		}
		out, err = scanSlide(tx.QueryRowContext(ctx,
			`SELECT `+slideColumns+` FROM slides WHERE story_id = ? AND slide_number = ?`, storyID, slideNumber))
		return err
	})
	return out, err
}

// CascadeReport lists what a story deletion removed or reset.
type CascadeReport struct {
	StoryID        string `json:"story_id"`
	ArticleID      string `json:"article_id"`
	SlidesRemoved  int    `json:"slides_removed"`
	ExportsRemoved int    `json:"exports_removed"`
	JobsRemoved    int    `json:"jobs_removed"`
	ArticleReset   bool   `json:"article_reset"`
	StoryRemoved   bool   `json:"story_removed"`

	// FailedStep names the dependent that could not be removed. When set,
	// the transaction was rolled back and nothing above took effect.
	FailedStep string `json:"failed_step,omitempty"`
}

// DeleteStoryCascade removes a story, its slides, its export and its
// article's queue jobs, and resets the article to new, all in one
// transaction. On failure the returned report names the step that failed and
// every counter is zero, since nothing was committed.
func (s *Store) DeleteStoryCascade(ctx context.Context, storyID string, now time.Time) (CascadeReport, error) {
	report := CascadeReport{StoryID: storyID}
	var pending CascadeReport

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pending = CascadeReport{StoryID: storyID}

		story, err := scanStory(tx.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, storyID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(domain.EntityStory, storyID)
		}
		if err != nil {
			pending.FailedStep = "story"
			return err
		}
		pending.ArticleID = story.ArticleID

		steps := []struct {
			name    string
			query   string
			args    []any
			counter *int
		}{
			{"slides", `DELETE FROM slides WHERE story_id = ?`, []any{storyID}, &pending.SlidesRemoved},
			{"asset_export", `DELETE FROM asset_exports WHERE story_id = ?`, []any{storyID}, &pending.ExportsRemoved},
			{"queue_jobs", `DELETE FROM queue_jobs WHERE article_id = ?`, []any{story.ArticleID}, &pending.JobsRemoved},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, step.args...)
			if err != nil {
				pending.FailedStep = step.name
				return fmt.Errorf("delete %s: %w", step.name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				pending.FailedStep = step.name
				return fmt.Errorf("delete %s: rows affected: %w", step.name, err)
			}
			*step.counter = int(n)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, storyID); err != nil {
			pending.FailedStep = "story"
			return fmt.Errorf("delete story: %w", err)
		}
		pending.StoryRemoved = true

		if _, err := tx.ExecContext(ctx, `
			UPDATE articles SET processing_status = 'new', rejection_reason = '', updated_at = ?
			WHERE id = ?
		`, formatTime(now), story.ArticleID); err != nil {
			pending.FailedStep = "article"
			return fmt.Errorf("reset article: %w", err)
		}
		pending.ArticleReset = true
		return nil
	})
	if err != nil {
		report.ArticleID = pending.ArticleID
		report.FailedStep = pending.FailedStep
		if report.FailedStep == "" && !domain.IsNotFound(err) {
			report.FailedStep = "commit"
		}
		return report, err
	}
	return pending, nil
}

func listSlides(ctx context.Context, q queryer, storyID string) ([]domain.Slide, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+slideColumns+` FROM slides WHERE story_id = ? ORDER BY slide_number ASC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("query slides: %w", err)
	}
	defer rows.Close()

	slides := []domain.Slide{}
	for rows.Next() {
		sl, err := scanSlide(rows)
		if err != nil {
			return nil, err
		}
		slides = append(slides, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slides: %w", err)
	}
	return slides, nil
}

func scanStory(r rowScanner) (domain.Story, error) {
	var story domain.Story
	var status, created, updated string

	if err := r.Scan(&story.ID, &story.ArticleID, &story.Title, &status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return story, err
		}
		return story, fmt.Errorf("scan story: %w", err)
	}

	var err error
	if story.Status, err = domain.ParseStoryStatus(status); err != nil {
		return story, err
	}
	if story.CreatedAt, err = parseTime(created); err != nil {
		return story, err
	}
	if story.UpdatedAt, err = parseTime(updated); err != nil {
		return story, err
	}
	return story, nil
}

func scanSlide(r rowScanner) (domain.Slide, error) {
	var sl domain.Slide
	if err := r.Scan(&sl.ID, &sl.StoryID, &sl.SlideNumber, &sl.Content, &sl.VisualPrompt, &sl.WordCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sl, domain.NotFound(domain.EntitySlide, "")
		}
		return sl, fmt.Errorf("scan slide: %w", err)
	}
	return sl, nil
}
