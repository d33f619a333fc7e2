// Package desk is the operator control surface. It composes the intake,
// queue, story and asset controllers over one store and is the only thing
// the HTTP and CLI layers talk to.
package desk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/storydesk/internal/asset"
	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/health"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/queue"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/story"
)

// Config wires a Service. Only Store is required.
type Config struct {
	Store *store.Store

	Intake intake.Thresholds
	Dedup  intake.DedupConfig
	Health health.Thresholds

	// MaxAttempts caps job resets; zero means unlimited.
	MaxAttempts int
	Workers     int
	AutoPublish bool

	Generator queue.StoryGenerator
	Scraper   Scraper
	Notifier  domain.Notifier
	IDs       domain.IDGenerator
	Now       func() time.Time
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service implements every operator action.
type Service struct {
	store      *store.Store
	classifier *intake.Classifier
	queue      *queue.Queue
	processor  *queue.Processor
	stories    *story.Controller
	exports    *asset.Tracker
	scorer     *health.Scorer
	scraper    Scraper
	gathering  *gatheringSet

	notifier domain.Notifier
	ids      domain.IDGenerator
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Service. Zero thresholds fall back to the reference
// defaults; a nil Generator uses queue.ParagraphGenerator.
func New(cfg Config) *Service {
	if cfg.Intake == (intake.Thresholds{}) {
		cfg.Intake = intake.DefaultThresholds()
	}
	if cfg.Dedup == (intake.DedupConfig{}) {
		cfg.Dedup = intake.DefaultDedupConfig()
	}
	if cfg.Health == (health.Thresholds{}) {
		cfg.Health = health.DefaultThresholds()
	}
	if cfg.Generator == nil {
		cfg.Generator = queue.ParagraphGenerator{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = domain.NopNotifier{}
	}
	if cfg.IDs == nil {
		cfg.IDs = domain.UUIDv7Generator{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := queue.New(cfg.Store,
		queue.WithIDs(cfg.IDs),
		queue.WithClock(cfg.Now),
		queue.WithNotifier(cfg.Notifier),
		queue.WithMetrics(cfg.Metrics),
		queue.WithLogger(cfg.Logger),
		queue.WithMaxAttempts(cfg.MaxAttempts),
	)
	matcher := intake.NewMatcher(cfg.Store, cfg.Dedup, cfg.Now)

	return &Service{
		store:      cfg.Store,
		classifier: intake.NewClassifier(cfg.Intake, matcher, cfg.Logger),
		queue:      q,
		processor:  queue.NewProcessor(q, cfg.Generator, cfg.Workers, cfg.Logger),
		stories: story.New(cfg.Store,
			story.WithClock(cfg.Now),
			story.WithNotifier(cfg.Notifier),
			story.WithMetrics(cfg.Metrics),
			story.WithLogger(cfg.Logger),
			story.WithAutoPublish(cfg.AutoPublish),
		),
		exports: asset.New(cfg.Store,
			asset.WithIDs(cfg.IDs),
			asset.WithClock(cfg.Now),
			asset.WithNotifier(cfg.Notifier),
			asset.WithMetrics(cfg.Metrics),
			asset.WithLogger(cfg.Logger),
		),
		scorer:    health.NewScorer(cfg.Health),
		scraper:   cfg.Scraper,
		gathering: newGatheringSet(),
		notifier:  cfg.Notifier,
		ids:       cfg.IDs,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "desk"),
	}
}

// Stories exposes the story lifecycle controller.
func (s *Service) Stories() *story.Controller { return s.stories }

// Exports exposes the asset generation tracker.
func (s *Service) Exports() *asset.Tracker { return s.exports }

// Queue exposes the content generation queue.
func (s *Service) Queue() *queue.Queue { return s.queue }

// Scorer exposes the source health scorer.
func (s *Service) Scorer() *health.Scorer { return s.scorer }

// Gathering reports whether a scrape is running for sourceID.
func (s *Service) Gathering(sourceID string) bool { return s.gathering.has(sourceID) }

// RegisterSource adds an active source with no scrape history.
func (s *Service) RegisterSource(ctx context.Context, name, url string) (domain.Source, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Source{}, domain.Invalid(domain.EntitySource, "", "source name is required")
	}
	src := domain.Source{
		ID:        s.ids.NewID(),
		Name:      name,
		URL:       strings.TrimSpace(url),
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return domain.Source{}, err
	}
	s.logger.Info("source registered", "source_id", src.ID, "name", src.Name)
	s.notifier.Notify(domain.Change{Entity: domain.EntitySource, ID: src.ID, Op: domain.OpCreated})
	return src, nil
}

// SetSourceActive turns scraping of a source on or off.
func (s *Service) SetSourceActive(ctx context.Context, id string, active bool) (domain.Source, error) {
	src, err := s.store.SetSourceActive(ctx, id, active)
	if err != nil {
		return domain.Source{}, err
	}
	s.logger.Info("source activity changed", "source_id", id, "active", active)
	s.notifier.Notify(domain.Change{Entity: domain.EntitySource, ID: id, Op: domain.OpUpdated})
	return src, nil
}

// ListSources returns every source.
func (s *Service) ListSources(ctx context.Context) ([]domain.Source, error) {
	return s.store.ListSources(ctx)
}

// SourceHealth classifies every source as of now.
func (s *Service) SourceHealth(ctx context.Context) (health.Report, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return health.Report{}, err
	}
	return s.scorer.Plan(sources, s.gathering.has, s.now()), nil
}

// IngestResult is what happened to one candidate.
type IngestResult struct {
	Article  domain.Article   `json:"article"`
	Decision intake.Result    `json:"decision"`
	Job      *domain.QueueJob `json:"job,omitempty"`
}

// Ingest stores a scraped candidate as a new article and classifies it.
func (s *Service) Ingest(ctx context.Context, c intake.Candidate) (IngestResult, error) {
	if err := c.Validate(); err != nil {
		return IngestResult{}, err
	}
	if _, err := s.store.GetSource(ctx, c.SourceID); err != nil {
		return IngestResult{}, err
	}

	a := c.Article(s.ids.NewID(), s.now())
	if err := s.store.InsertArticle(ctx, a); err != nil {
		return IngestResult{}, err
	}
	s.notifier.Notify(domain.Change{Entity: domain.EntityArticle, ID: a.ID, Op: domain.OpCreated})
	return s.classify(ctx, a)
}

// RestoreArticle returns a discarded article to new and classifies it
// again. Thresholds and dedup still apply, so it may be discarded again. An
// article left processing by failed jobs is restored the same way once those
// jobs are abandoned.
func (s *Service) RestoreArticle(ctx context.Context, id string) (IngestResult, error) {
	before, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return IngestResult{}, err
	}
	a, abandoned, err := s.store.RestoreArticle(ctx, id, s.now())
	if err != nil {
		return IngestResult{}, err
	}
	if before.Status != a.Status {
		s.metrics.Transition(string(domain.EntityArticle), string(before.Status), string(a.Status))
	}
	s.logger.Info("article restored", "article_id", id, "from", before.Status, "abandoned_jobs", len(abandoned))
	s.notifyAbandoned(id, abandoned)
	return s.classify(ctx, a)
}

// DiscardArticle discards a new article by hand, or one whose jobs have all
// failed.
func (s *Service) DiscardArticle(ctx context.Context, id string) (domain.Article, error) {
	before, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	a, abandoned, err := s.store.DiscardArticle(ctx, id, s.now())
	if err != nil {
		return domain.Article{}, err
	}
	if before.Status == a.Status {
		s.logger.Debug("article already discarded", "article_id", id)
		return a, nil
	}
	s.metrics.Transition(string(domain.EntityArticle), string(before.Status), string(a.Status))
	s.logger.Info("article discarded", "article_id", id, "reason", a.RejectionReason, "abandoned_jobs", len(abandoned))
	s.notifyAbandoned(id, abandoned)
	return a, nil
}

func (s *Service) notifyAbandoned(articleID string, jobIDs []string) {
	changes := []domain.Change{{Entity: domain.EntityArticle, ID: articleID, Op: domain.OpUpdated}}
	for _, jobID := range jobIDs {
		changes = append(changes, domain.Change{Entity: domain.EntityJob, ID: jobID, Op: domain.OpDeleted})
	}
	s.notifier.Notify(changes...)
}

// GetArticle returns one article.
func (s *Service) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	return s.store.GetArticle(ctx, id)
}

// ListArticles returns articles matching q.
func (s *Service) ListArticles(ctx context.Context, q store.ArticleQuery) ([]domain.Article, error) {
	return s.store.ListArticles(ctx, q)
}

// PreviewBulkDiscard counts the articles ApplyBulkDiscard would discard.
// An empty filter matches nothing.
func (s *Service) PreviewBulkDiscard(ctx context.Context, f intake.BulkFilter) (int, error) {
	return s.store.PreviewBulkDiscard(ctx, f)
}

// BulkResult lists the articles a bulk discard changed.
type BulkResult struct {
	Count      int      `json:"count"`
	ArticleIDs []string `json:"article_ids"`
}

// ApplyBulkDiscard discards every new or held article matching f.
func (s *Service) ApplyBulkDiscard(ctx context.Context, f intake.BulkFilter) (BulkResult, error) {
	ids, err := s.store.ApplyBulkDiscard(ctx, f, s.now())
	if err != nil {
		return BulkResult{}, err
	}
	changes := make([]domain.Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, domain.Change{Entity: domain.EntityArticle, ID: id, Op: domain.OpUpdated})
		s.metrics.Transition(string(domain.EntityArticle), string(domain.ArticleNew), string(domain.ArticleDiscarded))
	}
	s.notifier.Notify(changes...)
	s.logger.Info("bulk discard applied", "count", len(ids))
	if ids == nil {
		ids = []string{}
	}
	return BulkResult{Count: len(ids), ArticleIDs: ids}, nil
}

// TriggerQueueProcessing drains every pending job through the generator.
func (s *Service) TriggerQueueProcessing(ctx context.Context) (queue.RunSummary, error) {
	return s.processor.Run(ctx)
}

func (s *Service) classify(ctx context.Context, a domain.Article) (IngestResult, error) {
	res := s.classifier.Classify(ctx, a)
	out, err := s.store.ApplyIntake(ctx, a.ID, res, s.ids.NewID(), s.now())
	if err != nil {
		return IngestResult{}, err
	}
	s.metrics.IntakeDecision(string(res.Decision), string(res.Reason))
	if out.Article.Status != a.Status {
		s.metrics.Transition(string(domain.EntityArticle), string(a.Status), string(out.Article.Status))
	}

	s.logger.Info("article classified",
		"article_id", a.ID,
		"decision", res.Decision,
		"reason", res.Reason,
		"duplicate_of", res.DuplicateOf,
	)
	changes := []domain.Change{{Entity: domain.EntityArticle, ID: a.ID, Op: domain.OpUpdated}}
	if out.Job != nil {
		changes = append(changes, domain.Change{Entity: domain.EntityJob, ID: out.Job.ID, Op: domain.OpCreated})
	}
	s.notifier.Notify(changes...)
	return IngestResult{Article: out.Article, Decision: res, Job: out.Job}, nil
}
