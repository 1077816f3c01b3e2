// Package metrics exports pattern engine activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/pattern-engine/internal/engine"
)

const defaultNamespace = "pattern_engine"

// Metrics holds the Prometheus collectors fed by the orchestrator. It
// implements engine.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Analysis metrics
	AnalysesTotal     *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	RiskScore         prometheus.Histogram
	PatternsDetected  *prometheus.CounterVec
	DetectorFaults    *prometheus.CounterVec
	HighRiskAddresses prometheus.Counter

	// Cache metrics
	CacheLookups *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "total",
			Help:      "Total number of address analyses by status",
		}, []string{"status"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Fresh analysis duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "risk_score",
			Help:      "Distribution of overall risk scores",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		PatternsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "patterns_detected_total",
			Help:      "Total number of detected patterns by pattern id",
		}, []string{"pattern_id"}),
		DetectorFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "detector_faults_total",
			Help:      "Total number of recovered detector faults by pattern id",
		}, []string{"pattern_id"}),
		HighRiskAddresses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "high_risk_total",
			Help:      "Total number of analyses at or above the high-risk threshold",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by outcome",
		}, []string{"result"}),
	}
}

func (m *Metrics) AnalysisCompleted(duration time.Duration, detected []string, riskScore float64) {
	m.AnalysesTotal.WithLabelValues("success").Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	m.RiskScore.Observe(riskScore)
	for _, id := range detected {
		m.PatternsDetected.WithLabelValues(id).Inc()
	}
	if riskScore >= engine.HighRiskThreshold {
		m.HighRiskAddresses.Inc()
	}
}

func (m *Metrics) AnalysisFailed() {
	m.AnalysesTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) CacheHit() {
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) DetectorFault(patternID string) {
	m.DetectorFaults.WithLabelValues(patternID).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
