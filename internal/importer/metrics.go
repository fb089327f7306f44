package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the import engine. All
// methods are safe on a nil receiver so tests and tools can run without a
// registry.
type Metrics struct {
	previewsTotal     prometheus.Counter
	conflictsTotal    *prometheus.CounterVec
	rulesAppliedTotal prometheus.Counter
	importsTotal      *prometheus.CounterVec
	confirmDuration   prometheus.Histogram
	openSessions      prometheus.Gauge
}

// NewMetrics registers the engine's instruments on the given registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "importd"
	}

	m := &Metrics{
		previewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Preview sessions generated.",
		}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflicts surfaced at preview generation, by type.",
		}, []string{"type"}),
		rulesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_applied_total",
			Help:      "Memorized rules silently applied during preview generation.",
		}),
		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Confirm attempts by outcome.",
		}, []string{"status"}),
		confirmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "Wall time of the confirm transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Preview sessions currently held by the store.",
		}),
	}

	reg.MustRegister(
		m.previewsTotal,
		m.conflictsTotal,
		m.rulesAppliedTotal,
		m.importsTotal,
		m.confirmDuration,
		m.openSessions,
	)
	return m
}

// RecordPreview counts a generated preview and its surfaced conflicts.
func (m *Metrics) RecordPreview(conflicts []ConflictItem, rulesApplied int) {
	if m == nil {
		return
	}
	m.previewsTotal.Inc()
	m.rulesAppliedTotal.Add(float64(rulesApplied))
	for _, c := range conflicts {
		m.conflictsTotal.WithLabelValues(string(c.Type)).Inc()
	}
}

// RecordConfirm counts a confirm attempt and its duration.
func (m *Metrics) RecordConfirm(status HistoryStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(string(status)).Inc()
	m.confirmDuration.Observe(elapsed.Seconds())
}

// SetOpenSessions updates the session gauge.
func (m *Metrics) SetOpenSessions(n int) {
	if m == nil {
		return
	}
	m.openSessions.Set(float64(n))
}
