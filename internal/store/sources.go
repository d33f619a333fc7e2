package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roach88/storydesk/internal/domain"
)

const sourceColumns = `id, name, url, is_active, success_rate, articles_scraped,
	last_scraped_at, last_error, scrape_runs, scrape_successes, created_at`

// CreateSource inserts a new source.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		src.ID,
		src.Name,
		src.URL,
		src.IsActive,
		src.SuccessRate,
		src.ArticlesScraped,
		formatNullTime(src.LastScrapedAt),
		src.LastError,
		src.ScrapeRuns,
		src.ScrapeSuccesses,
		formatTime(src.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	return nil
}

// GetSource retrieves a single source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (domain.Source, error) {
	return getSource(ctx, s.db, id)
}

func getSource(ctx context.Context, q queryer, id string) (domain.Source, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, domain.NotFound(domain.EntitySource, id)
	}
	return src, err
}

// ListSources returns every source ordered by creation.
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	sources := []domain.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// SetSourceActive activates or deactivates a source. Sources are never
// deleted.
func (s *Store) SetSourceActive(ctx context.Context, id string, active bool) (domain.Source, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return domain.Source{}, fmt.Errorf("update source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Source{}, domain.NotFound(domain.EntitySource, id)
	}
	return s.GetSource(ctx, id)
}

// ScrapeRun is the accounting for one completed scraper run.
type ScrapeRun struct {
	ArticlesStored int
	Errors         []string
	FinishedAt     time.Time
}

// RecordScrapeRun folds a run into the source's rolling metrics. The success
// rate is successful runs over all runs, as a percentage rounded to one
// decimal. A run without errors is successful and clears last_error.
func (s *Store) RecordScrapeRun(ctx context.Context, id string, run ScrapeRun) (domain.Source, error) {
	var out domain.Source
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		src, err := getSource(ctx, tx, id)
		if err != nil {
			return err
		}

		src.ScrapeRuns++
		lastError := ""
		if len(run.Errors) == 0 {
			src.ScrapeSuccesses++
		} else {
			lastError = run.Errors[0]
		}
		src.SuccessRate = math.Round(float64(src.ScrapeSuccesses)/float64(src.ScrapeRuns)*1000) / 10
		src.ArticlesScraped += run.ArticlesStored
		src.LastError = lastError
		finished := run.FinishedAt.UTC()
		src.LastScrapedAt = &finished

		_, err = tx.ExecContext(ctx, `
			UPDATE sources
			SET success_rate = ?, articles_scraped = ?, last_scraped_at = ?, last_error = ?,
			    scrape_runs = ?, scrape_successes = ?
			WHERE id = ?
		`,
			src.SuccessRate,
			src.ArticlesScraped,
			formatNullTime(src.LastScrapedAt),
			src.LastError,
			src.ScrapeRuns,
			src.ScrapeSuccesses,
			id,
		)
		if err != nil {
			return fmt.Errorf("record scrape run: %w", err)
		}
		out = src
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (domain.Source, error) {
	var src domain.Source
	var lastScraped sql.NullString
	var created string

	if err := r.Scan(
		&src.ID, &src.Name, &src.URL, &src.IsActive, &src.SuccessRate, &src.ArticlesScraped,
		&lastScraped, &src.LastError, &src.ScrapeRuns, &src.ScrapeSuccesses, &created,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return src, err
		}
		return src, fmt.Errorf("scan source: %w", err)
	}

	var err error
	if src.LastScrapedAt, err = parseNullTime(lastScraped); err != nil {
		return src, err
	}
	if src.CreatedAt, err = parseTime(created); err != nil {
		return src, err
	}
	return src, nil
}
