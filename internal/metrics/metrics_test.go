package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Transition("story", "draft", "ready")
	m.Transition("story", "draft", "ready")
	m.IntakeDecision("discard", "duplicate")
	m.QueueClaim("claimed")
	m.BusRefresh("board")
	m.SetEntities("article", map[string]int{"new": 3, "discarded": 1})
	m.SetSourceTiers(map[string]int{"productive": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("story", "draft", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.intakeDecisions.WithLabelValues("discard", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueClaims.WithLabelValues("claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busRefreshes.WithLabelValues("board")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entities.WithLabelValues("article", "new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sourceTiers.WithLabelValues("productive")))

	m.SetSourceTiers(map[string]int{"idle": 1})
	assert.Equal(t, 1, testutil.CollectAndCount(m.sourceTiers), "tier gauge is replaced, not merged")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Transition("story", "draft", "ready")
		m.IntakeDecision("accept", "")
		m.QueueClaim("empty")
		m.BusRefresh("board")
		m.SetEntities("article", map[string]int{"new": 1})
		m.SetSourceTiers(map[string]int{"idle": 1})
	})
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration panics via promauto")
}
