package store

import (
	"context"
	"fmt"

	"github.com/roach88/storydesk/internal/domain"
)

// StatusCounts maps status to row count for one entity.
type StatusCounts map[string]int

// Counts is a per-entity status tally for the board.
type Counts struct {
	Articles StatusCounts `json:"articles"`
	Jobs     StatusCounts `json:"queue_jobs"`
	Stories  StatusCounts `json:"stories"`
	Exports  StatusCounts `json:"asset_exports"`
}

// CountByStatus tallies every entity by status. Statuses with no rows are
// present with a zero count.
func (s *Store) CountByStatus(ctx context.Context) (Counts, error) {
	tables := []struct {
		entity domain.EntityKind
		table  string
		column string
		known  []string
	}{
		{domain.EntityArticle, "articles", "processing_status", toStrings(domain.ArticleStatuses)},
		{domain.EntityJob, "queue_jobs", "status", toStrings(domain.JobStatuses)},
		{domain.EntityStory, "stories", "status", toStrings(domain.StoryStatuses)},
		{domain.EntityExport, "asset_exports", "status", toStrings(domain.ExportStatuses)},
	}

	out := make([]StatusCounts, len(tables))
	for i, t := range tables {
		counts := StatusCounts{}
		for _, k := range t.known {
			counts[k] = 0
		}
		query, args, err := psql.Select(t.column, "COUNT(*)").From(t.table).GroupBy(t.column).ToSql()
		if err != nil {
			return Counts{}, fmt.Errorf("build count %s: %w", t.table, err)
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", t.table, err)
		}
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return Counts{}, fmt.Errorf("scan %s count: %w", t.entity, err)
			}
			counts[status] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return Counts{}, fmt.Errorf("iterate %s counts: %w", t.table, err)
		}
		out[i] = counts
	}

	return Counts{Articles: out[0], Jobs: out[1], Stories: out[2], Exports: out[3]}, nil
}

func toStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
