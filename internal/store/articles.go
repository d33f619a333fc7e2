package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
)

var articleColumns = []string{
	"id", "source_id", "title", "body", "url", "processing_status",
	"regional_relevance_score", "content_quality_score", "rejection_reason",
	"scraped_at", "created_at", "updated_at",
}

// InsertArticle stores a newly ingested article.
func (s *Store) InsertArticle(ctx context.Context, a domain.Article) error {
	query, args, err := psql.Insert("articles").Columns(articleColumns...).Values(
		a.ID,
		a.SourceID,
		a.Title,
		a.Body,
		a.URL,
		string(a.Status),
		a.RegionalRelevanceScore,
		a.ContentQualityScore,
		string(a.RejectionReason),
		formatTime(a.ScrapedAt),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert article: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write article: %w", err)
	}
	return nil
}

// GetArticle retrieves a single article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	return getArticle(ctx, s.db, id)
}

func getArticle(ctx context.Context, q queryer, id string) (domain.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build select article: %w", err)
	}
	a, err := scanArticle(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, domain.NotFound(domain.EntityArticle, id)
	}
	return a, err
}

// ArticleQuery narrows ListArticles. Zero values match everything.
type ArticleQuery struct {
	Status   domain.ProcessingStatus
	SourceID string
	Limit    uint64
}

// ListArticles returns articles ordered by creation.
func (s *Store) ListArticles(ctx context.Context, q ArticleQuery) ([]domain.Article, error) {
	b := psql.Select(articleColumns...).From("articles").OrderBy("created_at ASC", "id ASC")
	if q.Status != "" {
		b = b.Where(sq.Eq{"processing_status": string(q.Status)})
	}
	if q.SourceID != "" {
		b = b.Where(sq.Eq{"source_id": q.SourceID})
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	return queryArticles(ctx, s.db, b)
}

// RecentArticles returns non-discarded articles created at or after since.
// It serves the intake duplicate matcher.
func (s *Store) RecentArticles(ctx context.Context, since time.Time) ([]domain.Article, error) {
	b := psql.Select(articleColumns...).From("articles").
		Where(sq.NotEq{"processing_status": string(domain.ArticleDiscarded)}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		OrderBy("created_at ASC", "id ASC")
	return queryArticles(ctx, s.db, b)
}

// IntakeOutcome is what ApplyIntake wrote.
type IntakeOutcome struct {
	Article domain.Article
	Job     *domain.QueueJob
}

// ApplyIntake records a classification for an article that is still new.
// Accept moves it to processing and enqueues a pending job in the same
// transaction; discard records the reason; hold leaves it untouched.
func (s *Store) ApplyIntake(ctx context.Context, articleID string, res intake.Result, jobID string, now time.Time) (IntakeOutcome, error) {
	var out IntakeOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getArticle(ctx, tx, articleID)
		if err != nil {
			return err
		}
		if a.Status != domain.ArticleNew {
			return domain.IllegalTransition(domain.EntityArticle, articleID, "classify", a.Status)
		}

		switch res.Decision {
		case intake.DecisionAccept:
			if err := setArticleStatus(ctx, tx, articleID, domain.ArticleNew, domain.ArticleProcessing, domain.ReasonNone, now); err != nil {
				return err
			}
			job := domain.QueueJob{ID: jobID, ArticleID: articleID, Status: domain.JobPending, CreatedAt: now, UpdatedAt: now}
			if err := insertJob(ctx, tx, job); err != nil {
				return err
			}
			out.Job = &job
		case intake.DecisionDiscard:
			if err := setArticleStatus(ctx, tx, articleID, domain.ArticleNew, domain.ArticleDiscarded, res.Reason, now); err != nil {
				return err
			}
		case intake.DecisionHold:
		default:
			return domain.Invalid(domain.EntityArticle, articleID, fmt.Sprintf("unknown intake decision %q", res.Decision))
		}

		out.Article, err = getArticle(ctx, tx, articleID)
		return err
	})
	return out, err
}

// RestoreArticle returns a discarded or new article to new and clears its
// rejection reason. A processing article whose jobs have all failed is
// restored too; its failed jobs are deleted in the same transaction and
// their IDs returned. Any other status is an illegal transition.
func (s *Store) RestoreArticle(ctx context.Context, id string, now time.Time) (domain.Article, []string, error) {
	var (
		out       domain.Article
		abandoned []string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getArticle(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case a.Status.Restorable():
		case a.Status == domain.ArticleProcessing:
			if abandoned, err = abandonFailedJobs(ctx, tx, id, "restore"); err != nil {
				return err
			}
		default:
			return domain.IllegalTransition(domain.EntityArticle, id, "restore", a.Status)
		}
		if err := setArticleStatus(ctx, tx, id, a.Status, domain.ArticleNew, domain.ReasonNone, now); err != nil {
			return err
		}
		out, err = getArticle(ctx, tx, id)
		return err
	})
	return out, abandoned, err
}

// DiscardArticle marks a new article as manually discarded. A processing
// article whose jobs have all failed can be discarded as well; its failed
// jobs are deleted and their IDs returned. Discarding a discarded article
// is a no-op.
func (s *Store) DiscardArticle(ctx context.Context, id string, now time.Time) (domain.Article, []string, error) {
	var (
		out       domain.Article
		abandoned []string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getArticle(ctx, tx, id)
		if err != nil {
			return err
		}
		switch a.Status {
		case domain.ArticleDiscarded:
			out = a
			return nil
		case domain.ArticleNew:
		case domain.ArticleProcessing:
			if abandoned, err = abandonFailedJobs(ctx, tx, id, "discard"); err != nil {
				return err
			}
		default:
			return domain.IllegalTransition(domain.EntityArticle, id, "discard", a.Status)
		}
		if err := setArticleStatus(ctx, tx, id, a.Status, domain.ArticleDiscarded, domain.ReasonManual, now); err != nil {
			return err
		}
		out, err = getArticle(ctx, tx, id)
		return err
	})
	return out, abandoned, err
}

// abandonFailedJobs deletes the failed jobs of a processing article so it
// can leave processing. It refuses while a job is pending or processing, or
// when there is no failed job to abandon.
func abandonFailedJobs(ctx context.Context, tx *sql.Tx, articleID, action string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, status FROM queue_jobs WHERE article_id = ? ORDER BY seq ASC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("query article jobs: %w", err)
	}
	defer rows.Close()

	var failed []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan article job: %w", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobPending, domain.JobProcessing:
			return nil, domain.AlreadyInProgress(domain.EntityArticle, articleID,
				fmt.Sprintf("cannot %s while job %s is %s", action, id, status))
		case domain.JobFailed:
			failed = append(failed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article jobs: %w", err)
	}
	if len(failed) == 0 {
		return nil, domain.IllegalTransition(domain.EntityArticle, articleID, action, domain.ArticleProcessing)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_jobs WHERE article_id = ? AND status = 'failed'`, articleID); err != nil {
		return nil, fmt.Errorf("delete failed jobs: %w", err)
	}
	return failed, nil
}

// PreviewBulkDiscard counts the articles ApplyBulkDiscard would discard.
func (s *Store) PreviewBulkDiscard(ctx context.Context, f intake.BulkFilter) (int, error) {
	ids, err := bulkCandidates(ctx, s.db, f)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ApplyBulkDiscard discards every article matching f and returns the IDs.
// Selection and update share one transaction and the same predicate as
// PreviewBulkDiscard.
func (s *Store) ApplyBulkDiscard(ctx context.Context, f intake.BulkFilter, now time.Time) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = bulkCandidates(ctx, tx, f)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := setArticleStatus(ctx, tx, id, domain.ArticleNew, domain.ArticleDiscarded, domain.ReasonManual, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// bulkCandidates narrows in SQL on the indexable criteria, then applies the
// full intake.BulkFilter predicate to each row.
func bulkCandidates(ctx context.Context, q queryer, f intake.BulkFilter) ([]string, error) {
	if f.Empty() {
		return []string{}, nil
	}
	b := psql.Select(articleColumns...).From("articles").
		Where(sq.Eq{"processing_status": string(domain.ArticleNew)}).
		OrderBy("created_at ASC", "id ASC")
	if len(f.SourceIDs) > 0 {
		b = b.Where(sq.Eq{"source_id": f.SourceIDs})
	}
	if f.MaxQuality != nil {
		b = b.Where(sq.LtOrEq{"content_quality_score": *f.MaxQuality})
	}
	if f.MaxRelevance != nil {
		b = b.Where(sq.LtOrEq{"regional_relevance_score": *f.MaxRelevance})
	}

	articles, err := queryArticles(ctx, q, b)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, a := range articles {
		if f.Matches(a) {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

// setArticleStatus moves an article from one status to another. It fails
// with an illegal transition if the article is no longer in from.
func setArticleStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProcessingStatus, reason domain.RejectionReason, now time.Time) error {
	query, args, err := psql.Update("articles").
		Set("processing_status", string(to)).
		Set("rejection_reason", string(reason)).
		Set("updated_at", formatTime(now)).
		Where(sq.Eq{"id": id, "processing_status": string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update article: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update article status: rows affected: %w", err)
	}
	if n == 0 {
		return &domain.Error{
			Code:   domain.CodeIllegalTransition,
			Entity: domain.EntityArticle,
			ID:     id,
			Reason: fmt.Sprintf("article is no longer %s", from),
		}
	}
	return nil
}

func queryArticles(ctx context.Context, q queryer, b sq.SelectBuilder) ([]domain.Article, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select articles: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	articles := []domain.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return articles, nil
}

func scanArticle(r rowScanner) (domain.Article, error) {
	var a domain.Article
	var status, reason, scraped, created, updated string

	if err := r.Scan(
		&a.ID, &a.SourceID, &a.Title, &a.Body, &a.URL, &status,
		&a.RegionalRelevanceScore, &a.ContentQualityScore, &reason,
		&scraped, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan article: %w", err)
	}

	var err error
	if a.Status, err = domain.ParseProcessingStatus(status); err != nil {
		return a, err
	}
	if a.RejectionReason, err = domain.ParseRejectionReason(reason); err != nil {
		return a, err
	}
	if a.ScrapedAt, err = parseTime(scraped); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	return a, nil
}
