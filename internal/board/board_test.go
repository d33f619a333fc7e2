package board

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storydesk/internal/bus"
	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/health"
	"github.com/roach88/storydesk/internal/metrics"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoard_RefreshReadsStore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	recent := clock.Now().Add(-24 * time.Hour)

	require.NoError(t, s.CreateSource(ctx, domain.Source{ID: "good", Name: "Good", IsActive: true, SuccessRate: 90, ArticlesScraped: 20, LastScrapedAt: &recent, CreatedAt: clock.Now()}))
	require.NoError(t, s.CreateSource(ctx, domain.Source{ID: "busy", Name: "Busy", IsActive: true, CreatedAt: clock.Now()}))
	require.NoError(t, s.InsertArticle(ctx, domain.Article{
		ID: "a1", SourceID: "good", Title: "T", Body: "B", Status: domain.ArticleNew,
		ScrapedAt: clock.Now(), CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
	}))

	b := New(Config{
		Store:     s,
		Scorer:    health.NewScorer(health.DefaultThresholds()),
		Gathering: func(id string) bool { return id == "busy" },
		Now:       clock.Now,
	})
	require.NoError(t, b.Refresh(ctx, []domain.Change{{Entity: domain.EntityArticle, ID: "a1", Seq: 7}}))

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Counts.Articles["new"])
	assert.Equal(t, 1, snap.Health.Counts[health.TierProductive])
	assert.Equal(t, 1, snap.Health.Counts[health.TierGathering])
	assert.Equal(t, int64(7), snap.Seq)
	assert.True(t, snap.RefreshedAt.Equal(clock.Now()))

	require.NoError(t, b.Refresh(ctx, nil))
	assert.Equal(t, int64(7), b.Snapshot().Seq, "seq never moves backwards")
}

func TestBoard_RefreshedByBus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	b := New(Config{Store: s, Metrics: metrics.New(reg)})

	bb := bus.New(bus.WithDebounce(0))
	bb.Subscribe(b)
	require.NoError(t, s.CreateSource(ctx, domain.Source{ID: "src-1", Name: "S", IsActive: false, CreatedAt: time.Now()}))
	bb.Notify(domain.Change{Entity: domain.EntitySource, ID: "src-1", Op: domain.OpCreated})
	bb.Flush(ctx)

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Health.Counts[health.TierInactive])
	assert.Equal(t, int64(1), snap.Seq)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["storydesk_entities"])
	assert.True(t, names["storydesk_source_tiers"])
}
