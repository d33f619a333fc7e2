// Package asset tracks carousel export generation per story.
//
// A story has one export, none until first started:
//
//	none | completed | failed --start--> generating
//	generating --complete--> completed
//	generating --fail-->     failed
//	failed     --retry-->    generating (same export ID)
//
// Start refuses while generating, so two renders never run for one story.
package asset

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/store"
)

// Report is what the asset generator sends back when a render finishes.
type Report struct {
	Status       domain.ExportStatus `json:"status"`
	FilePaths    []string            `json:"file_paths,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// Tracker owns asset export transitions.
type Tracker struct {
	store    *store.Store
	ids      domain.IDGenerator
	now      func() time.Time
	notifier domain.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDs sets the identity source for new exports.
func WithIDs(ids domain.IDGenerator) Option {
	return func(t *Tracker) { t.ids = ids }
}

// WithClock sets the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithNotifier sets where committed changes are announced.
func WithNotifier(n domain.Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker over s.
func New(s *store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:    s,
		ids:      domain.UUIDv7Generator{},
		now:      time.Now,
		notifier: domain.NopNotifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "asset")
	return t
}

// Start begins generation for a story. It fails with already_in_progress
// while an export for the story is generating.
func (t *Tracker) Start(ctx context.Context, storyID string) (domain.AssetExport, error) {
	prev, _, err := t.store.GetExportByStory(ctx, storyID)
	if err != nil {
		return domain.AssetExport{}, err
	}
	exp, err := t.store.StartExport(ctx, storyID, t.ids.NewID(), t.now())
	if err != nil {
		if domain.IsAlreadyInProgress(err) {
			t.logger.Debug("export already generating", "story_id", storyID)
		}
		return domain.AssetExport{}, err
	}
	t.record(exp, prev.Status, "export started")
	return exp, nil
}

// MarkComplete records the generated files.
func (t *Tracker) MarkComplete(ctx context.Context, exportID string, filePaths []string) (domain.AssetExport, error) {
	exp, err := t.store.CompleteExport(ctx, exportID, filePaths, t.now())
	if err != nil {
		return domain.AssetExport{}, err
	}
	t.record(exp, domain.ExportGenerating, "export completed")
	return exp, nil
}

// MarkFailed records the renderer's error.
func (t *Tracker) MarkFailed(ctx context.Context, exportID, message string) (domain.AssetExport, error) {
	if message == "" {
		message = "asset generation failed without a message"
	}
	exp, err := t.store.FailExport(ctx, exportID, message, t.now())
	if err != nil {
		return domain.AssetExport{}, err
	}
	t.logger.Warn("export failed", "export_id", exportID, "story_id", exp.StoryID, "error", message)
	t.record(exp, domain.ExportGenerating, "")
	return exp, nil
}

// Retry restarts a failed export under the same identity.
func (t *Tracker) Retry(ctx context.Context, exportID string) (domain.AssetExport, error) {
	exp, err := t.store.RetryExport(ctx, exportID, t.now())
	if err != nil {
		return domain.AssetExport{}, err
	}
	t.record(exp, domain.ExportFailed, "export retried")
	return exp, nil
}

// Apply routes a generator report to MarkComplete or MarkFailed.
func (t *Tracker) Apply(ctx context.Context, exportID string, r Report) (domain.AssetExport, error) {
	switch r.Status {
	case domain.ExportCompleted:
		return t.MarkComplete(ctx, exportID, r.FilePaths)
	case domain.ExportFailed:
		return t.MarkFailed(ctx, exportID, r.ErrorMessage)
	default:
		return domain.AssetExport{}, domain.Invalid(domain.EntityExport, exportID, "a report must be completed or failed")
	}
}

// ForStory returns the story's export, status none if it has never started.
func (t *Tracker) ForStory(ctx context.Context, storyID string) (domain.AssetExport, error) {
	exp, _, err := t.store.GetExportByStory(ctx, storyID)
	return exp, err
}

func (t *Tracker) record(exp domain.AssetExport, from domain.ExportStatus, msg string) {
	t.metrics.Transition(string(domain.EntityExport), string(from), string(exp.Status))
	if msg != "" {
		t.logger.Info(msg, "export_id", exp.ID, "story_id", exp.StoryID, "from", from, "to", exp.Status, "attempts", exp.Attempts)
	}
	t.notifier.Notify(domain.Change{Entity: domain.EntityExport, ID: exp.ID, Op: domain.OpUpdated})
}
