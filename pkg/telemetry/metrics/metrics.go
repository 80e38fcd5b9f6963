package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// Config contains configuration for the metrics collector.
type Config struct {
	// Enabled turns metric collection on.
	Enabled bool

	// Namespace is the Prometheus metric namespace.
	// Default: "noteflow"
	Namespace string

	// Subsystem is the Prometheus metric subsystem.
	// Default: "quotad"
	Subsystem string
}

// QuotaMetrics collects Prometheus metrics for quota decisions. It
// implements quota.Metrics.
type QuotaMetrics struct {
	registry *prometheus.Registry

	decisionsTotal *prometheus.CounterVec
	checkDuration  prometheus.Histogram
	storeErrors    *prometheus.CounterVec
	releasesTotal  *prometheus.CounterVec
}

var _ quota.Metrics = (*QuotaMetrics)(nil)

// New creates and registers the quota metrics with the provided registry.
// If registry is nil, a fresh registry is created.
func New(cfg Config, registry *prometheus.Registry) *QuotaMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "noteflow"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "quotad"
	}

	m := &QuotaMetrics{
		registry: registry,

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_total",
				Help:      "Total number of quota checks by outcome",
			},
			[]string{"outcome"},
		),

		checkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "check_duration_seconds",
				Help:      "Duration of quota checks in seconds",
				// Checks are one store round trip; sub-millisecond to
				// low tens of milliseconds is the expected range.
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
		),

		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "store_errors_total",
				Help:      "Total number of counter store failures by operation",
			},
			[]string{"operation"},
		),

		releasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "releases_total",
				Help:      "Total number of reservation releases by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.checkDuration,
		m.storeErrors,
		m.releasesTotal,
	)

	return m
}

// ObserveCheck implements quota.Metrics.
func (m *QuotaMetrics) ObserveCheck(code quota.Code, d time.Duration) {
	outcome := string(code)
	if outcome == "" {
		outcome = "ERROR"
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.checkDuration.Observe(d.Seconds())
}

// ObserveRelease implements quota.Metrics.
func (m *QuotaMetrics) ObserveRelease(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.releasesTotal.WithLabelValues(result).Inc()
}

// ObserveStoreError implements quota.Metrics.
func (m *QuotaMetrics) ObserveStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func (m *QuotaMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
