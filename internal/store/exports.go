package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/storydesk/internal/domain"
)

const exportColumns = `id, story_id, status, file_paths, error_message, attempts, created_at, updated_at`

// StartExport begins asset generation for a story. A story has at most one
// export row: the first call inserts it, later calls restart it unless it is
// still generating, which is refused as already in progress. A restart
// drops the files of the previous run.
func (s *Store) StartExport(ctx context.Context, storyID, exportID string, now time.Time) (domain.AssetExport, error) {
	var out domain.AssetExport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM stories WHERE id = ?`, storyID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(domain.EntityStory, storyID)
		}
		if err != nil {
			return fmt.Errorf("query story: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO asset_exports (`+exportColumns+`)
			VALUES (?, ?, 'generating', '[]', '', 1, ?, ?)
			ON CONFLICT(story_id) DO UPDATE
			SET status = 'generating', file_paths = '[]', attempts = asset_exports.attempts + 1, updated_at = excluded.updated_at
			WHERE asset_exports.status != 'generating'
		`, exportID, storyID, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("start export: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("start export: rows affected: %w", err)
		}
		if n == 0 {
			return domain.AlreadyInProgress(domain.EntityExport, storyID, "an export is already generating for this story")
		}

		out, err = scanExport(tx.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM asset_exports WHERE story_id = ?`, storyID))
		return err
	})
	return out, err
}

// CompleteExport records the generated files and clears any earlier error.
func (s *Store) CompleteExport(ctx context.Context, id string, paths []string, now time.Time) (domain.AssetExport, error) {
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return domain.AssetExport{}, fmt.Errorf("encode file paths: %w", err)
	}
	return s.transitionExport(ctx, id, "complete", domain.ExportGenerating, `
		UPDATE asset_exports SET status = 'completed', file_paths = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = 'generating'
	`, string(encoded), formatTime(now), id)
}

// FailExport marks a generating export failed with the renderer's message.
func (s *Store) FailExport(ctx context.Context, id, message string, now time.Time) (domain.AssetExport, error) {
	return s.transitionExport(ctx, id, "fail", domain.ExportGenerating, `
		UPDATE asset_exports SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'generating'
	`, message, formatTime(now), id)
}

// RetryExport restarts a failed export under the same ID. The error message
// is kept until the retry completes.
func (s *Store) RetryExport(ctx context.Context, id string, now time.Time) (domain.AssetExport, error) {
	return s.transitionExport(ctx, id, "retry", domain.ExportFailed, `
		UPDATE asset_exports SET status = 'generating', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`, formatTime(now), id)
}

func (s *Store) transitionExport(ctx context.Context, id, action string, from domain.ExportStatus, query string, args ...any) (domain.AssetExport, error) {
	var out domain.AssetExport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s export: %w", action, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, err := getExport(ctx, tx, id)
			if err != nil {
				return err
			}
			return domain.IllegalTransition(domain.EntityExport, id, action, cur.Status)
		}
		out, err = getExport(ctx, tx, id)
		return err
	})
	return out, err
}

// GetExport retrieves an export by ID.
func (s *Store) GetExport(ctx context.Context, id string) (domain.AssetExport, error) {
	return getExport(ctx, s.db, id)
}

func getExport(ctx context.Context, q queryer, id string) (domain.AssetExport, error) {
	e, err := scanExport(q.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM asset_exports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssetExport{}, domain.NotFound(domain.EntityExport, id)
	}
	return e, err
}

// GetExportByStory returns a story's export. ok is false if the story has
// never been exported, which callers report as status none.
func (s *Store) GetExportByStory(ctx context.Context, storyID string) (e domain.AssetExport, ok bool, err error) {
	e, err = scanExport(s.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM asset_exports WHERE story_id = ?`, storyID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssetExport{StoryID: storyID, Status: domain.ExportNone, FilePaths: []string{}}, false, nil
	}
	if err != nil {
		return domain.AssetExport{}, false, err
	}
	return e, true, nil
}

func scanExport(r rowScanner) (domain.AssetExport, error) {
	var e domain.AssetExport
	var status, paths, created, updated string

	if err := r.Scan(&e.ID, &e.StoryID, &status, &paths, &e.ErrorMessage, &e.Attempts, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan export: %w", err)
	}

	var err error
	if e.Status, err = domain.ParseExportStatus(status); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(paths), &e.FilePaths); err != nil {
		return e, fmt.Errorf("decode file paths: %w", err)
	}
	if e.FilePaths == nil {
		e.FilePaths = []string{}
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return e, err
	}
	return e, nil
}
