// Package board keeps the operator dashboard's aggregate view: entity
// counts by status and source health tiers. It is a bus observer and
// recomputes from the store on every refresh, so it can lag but never drift.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/health"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/store"
)

// Snapshot is one consistent reading of the board.
type Snapshot struct {
	Counts      store.Counts  `json:"counts"`
	Health      health.Report `json:"health"`
	RefreshedAt time.Time     `json:"refreshed_at"`

	// Seq is the highest change sequence folded into this snapshot.
	Seq int64 `json:"seq"`
}

// Board is the reconciled view state.
type Board struct {
	store     *store.Store
	scorer    *health.Scorer
	gathering func(sourceID string) bool
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// Config wires a Board. Gathering and Now may be nil.
type Config struct {
	Store     *store.Store
	Scorer    *health.Scorer
	Gathering func(sourceID string) bool
	Now       func() time.Time
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// New creates a Board. Call Refresh once to populate it.
func New(cfg Config) *Board {
	b := &Board{
		store:     cfg.Store,
		scorer:    cfg.Scorer,
		gathering: cfg.Gathering,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if b.scorer == nil {
		b.scorer = health.NewScorer(health.DefaultThresholds())
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "board")
	return b
}

// Name implements bus.Observer.
func (b *Board) Name() string { return "board" }

// Refresh implements bus.Observer. The changes only advance Seq; the
// counts and tiers are always re-read in full.
func (b *Board) Refresh(ctx context.Context, changes []domain.Change) error {
	counts, err := b.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("refresh board counts: %w", err)
	}
	sources, err := b.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("refresh board sources: %w", err)
	}
	now := b.now()
	report := b.scorer.Plan(sources, b.gathering, now)

	b.mu.Lock()
	seq := b.snap.Seq
	for _, c := range changes {
		if c.Seq > seq {
			seq = c.Seq
		}
	}
	b.snap = Snapshot{Counts: counts, Health: report, RefreshedAt: now, Seq: seq}
	b.mu.Unlock()

	b.metrics.SetEntities(string(domain.EntityArticle), counts.Articles)
	b.metrics.SetEntities(string(domain.EntityJob), counts.Jobs)
	b.metrics.SetEntities(string(domain.EntityStory), counts.Stories)
	b.metrics.SetEntities(string(domain.EntityExport), counts.Exports)
	tiers := make(map[string]int, len(report.Counts))
	for t, n := range report.Counts {
		tiers[string(t)] = n
	}
	b.metrics.SetSourceTiers(tiers)

	b.logger.Debug("board refreshed", "changes", len(changes), "seq", seq, "attention", len(report.Attention))
	return nil
}

// Snapshot returns the latest reading.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}
