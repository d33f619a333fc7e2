// Package metrics defines the Prometheus instruments for the pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument registered for one process.
type Metrics struct {
	transitions     *prometheus.CounterVec
	intakeDecisions *prometheus.CounterVec
	queueClaims     *prometheus.CounterVec
	busRefreshes    *prometheus.CounterVec
	entities        *prometheus.GaugeVec
	sourceTiers     *prometheus.GaugeVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storydesk_transitions_total",
				Help: "Status transitions applied, by entity and from/to status",
			},
			[]string{"entity", "from", "to"},
		),
		intakeDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storydesk_intake_decisions_total",
				Help: "Article intake decisions by decision and rejection reason",
			},
			[]string{"decision", "reason"},
		),
		queueClaims: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storydesk_queue_claims_total",
				Help: "Queue claim attempts by result (claimed, empty, error)",
			},
			[]string{"result"},
		),
		busRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storydesk_bus_refreshes_total",
				Help: "Observer refreshes triggered by the reconciliation bus",
			},
			[]string{"observer"},
		),
		entities: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storydesk_entities",
				Help: "Current entity count by status",
			},
			[]string{"entity", "status"},
		),
		sourceTiers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storydesk_source_tiers",
				Help: "Current number of sources in each health tier",
			},
			[]string{"tier"},
		),
	}
}

// Transition counts one status change.
func (m *Metrics) Transition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

// IntakeDecision counts one classification.
func (m *Metrics) IntakeDecision(decision, reason string) {
	if m == nil {
		return
	}
	m.intakeDecisions.WithLabelValues(decision, reason).Inc()
}

// QueueClaim counts one claim attempt.
func (m *Metrics) QueueClaim(result string) {
	if m == nil {
		return
	}
	m.queueClaims.WithLabelValues(result).Inc()
}

// BusRefresh counts one observer refresh.
func (m *Metrics) BusRefresh(observer string) {
	if m == nil {
		return
	}
	m.busRefreshes.WithLabelValues(observer).Inc()
}

// SetEntities replaces the entity gauge for one entity kind.
func (m *Metrics) SetEntities(entity string, counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.entities.WithLabelValues(entity, status).Set(float64(n))
	}
}

// SetSourceTiers replaces the tier gauge.
func (m *Metrics) SetSourceTiers(counts map[string]int) {
	if m == nil {
		return
	}
	m.sourceTiers.Reset()
	for tier, n := range counts {
		m.sourceTiers.WithLabelValues(tier).Set(float64(n))
	}
}
