// Package metrics provides Prometheus metrics for kestrel.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-health/kestrel/internal/domain"
)

const namespace = "kestrel"

// Outcome labels for AnalysisTotal.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics holds the analysis collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// AnalysisDuration measures analysis wall time.
	AnalysisDuration *prometheus.HistogramVec
	// AnalysisTotal counts analyses by outcome.
	AnalysisTotal *prometheus.CounterVec
	// ClustersDetected counts qualifying clusters.
	ClustersDetected prometheus.Counter
	// AlertsGenerated counts alerts by severity.
	AlertsGenerated *prometheus.CounterVec
	// OutbreaksDetected counts declared outbreaks by type.
	OutbreaksDetected *prometheus.CounterVec
}

// New registers the kestrel collectors plus the Go and process collectors
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AnalysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Duration of analyses in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"analysis"},
		),
		AnalysisTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_total",
				Help:      "Total number of analyses by outcome",
			},
			[]string{"analysis", "outcome"},
		),
		ClustersDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clusters_detected_total",
				Help:      "Total number of clusters that met the size and positivity thresholds",
			},
		),
		AlertsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_generated_total",
				Help:      "Total number of outbreak alerts by severity",
			},
			[]string{"severity"},
		),
		OutbreaksDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbreaks_detected_total",
				Help:      "Total number of declared outbreaks by type",
			},
			[]string{"type"},
		),
	}
}

// ObserveAnalysis records one analysis run.
func (m *Metrics) ObserveAnalysis(kind domain.AnalysisKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(string(kind), outcome).Inc()
	m.AnalysisDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RecordClusters records a cluster run and the alerts it raised.
func (m *Metrics) RecordClusters(report domain.ClusterReport) {
	if m == nil {
		return
	}
	m.ClustersDetected.Add(float64(len(report.Clusters)))
	for _, a := range report.Alerts {
		m.AlertsGenerated.WithLabelValues(string(a.Severity)).Inc()
	}
}

// RecordOutbreak records a declared outbreak.
func (m *Metrics) RecordOutbreak(res domain.OutbreakResult) {
	if m == nil || !res.OutbreakDetected {
		return
	}
	m.OutbreaksDetected.WithLabelValues(string(res.OutbreakType)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
