// Package metrics exposes Prometheus metrics for engine builds, the
// generation swap and event evaluation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for the rule-engine
// control plane.
type Metrics struct {
	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram

	activeRules        prometheus.Gauge
	activeEnabledRules prometheus.Gauge
	generationSwaps    prometheus.Counter
	superseded         prometheus.Counter

	eventsEvaluated prometheus.Counter
	detections      *prometheus.CounterVec
}

// New creates the collectors and registers them with the default
// registry.
func New() *Metrics {
	return &Metrics{
		buildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentra_engine_builds_total",
				Help: "Engine generation builds, by outcome",
			},
			[]string{"result"},
		),
		buildDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sentra_engine_build_duration_seconds",
				Help:    "Wall time spent building engine generations",
				Buckets: prometheus.DefBuckets,
			},
		),
		activeRules: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentra_engine_active_rules",
				Help: "Rules loaded in the active generation",
			},
		),
		activeEnabledRules: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentra_engine_active_enabled_rules",
				Help: "Rules enabled in the active generation",
			},
		),
		generationSwaps: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentra_engine_generation_swaps_total",
				Help: "Times the consumer activated a new generation",
			},
		),
		superseded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentra_engine_generations_superseded_total",
				Help: "Candidates discarded without ever becoming active",
			},
		),
		eventsEvaluated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentra_events_evaluated_total",
				Help: "Events run through the active rule set",
			},
		),
		detections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentra_detections_total",
				Help: "Rule matches, by priority",
			},
			[]string{"priority"},
		),
	}
}

func (m *Metrics) ObserveBuild(result string, d time.Duration) {
	m.buildsTotal.WithLabelValues(result).Inc()
	m.buildDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActiveGeneration(rules, enabled int) {
	m.activeRules.Set(float64(rules))
	m.activeEnabledRules.Set(float64(enabled))
	m.generationSwaps.Inc()
}

func (m *Metrics) AddSuperseded(n int) {
	m.superseded.Add(float64(n))
}

func (m *Metrics) EventEvaluated() {
	m.eventsEvaluated.Inc()
}

func (m *Metrics) Detection(priority string) {
	m.detections.WithLabelValues(priority).Inc()
}
