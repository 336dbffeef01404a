package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for packline.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Pipeline metrics
	unitsProcessed *prometheus.CounterVec
	unitDuration   *prometheus.HistogramVec

	// Build metrics
	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	cacheHits     prometheus.Counter

	// Feed metrics
	feedQueries *prometheus.CounterVec
	feedErrors  *prometheus.CounterVec

	// Upload metrics
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		unitsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_processed_total",
				Help:      "Total number of run units processed",
			},
			[]string{"kind", "status"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Duration of unit processing in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		buildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of package builds",
			},
			[]string{"status"},
		),
		buildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of package builds in seconds",
				Buckets:   buckets,
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of builds satisfied from the local cache",
			},
		),

		feedQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_queries_total",
				Help:      "Total number of feed version queries",
			},
			[]string{"feed"},
		),
		feedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_errors_total",
				Help:      "Total number of feed query failures",
			},
			[]string{"feed"},
		),

		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of package uploads",
			},
			[]string{"tenant", "status"},
		),
		uploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Duration of package uploads in seconds",
				Buckets:   buckets,
			},
			[]string{"tenant"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.unitsProcessed,
		m.unitDuration,
		m.buildsTotal,
		m.buildDuration,
		m.cacheHits,
		m.feedQueries,
		m.feedErrors,
		m.uploadsTotal,
		m.uploadDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs. Kind is
// "publish" or "migrate".
func (m *Metrics) RecordRunStarted(kind string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(kind, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordUnit records the outcome of one run unit.
func (m *Metrics) RecordUnit(kind, status string, duration time.Duration) {
	if m.unitsProcessed == nil {
		return
	}
	m.unitsProcessed.WithLabelValues(kind, status).Inc()
	m.unitDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBuild records a package build. Cache hits count separately from
// actual invocations.
func (m *Metrics) RecordBuild(status string, cacheHit bool, duration time.Duration) {
	if m.buildsTotal == nil {
		return
	}
	if cacheHit {
		m.cacheHits.Inc()
		return
	}
	m.buildsTotal.WithLabelValues(status).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// RecordFeedQuery records a feed version query.
func (m *Metrics) RecordFeedQuery(feed string, failed bool) {
	if m.feedQueries == nil {
		return
	}
	m.feedQueries.WithLabelValues(feed).Inc()
	if failed {
		m.feedErrors.WithLabelValues(feed).Inc()
	}
}

// RecordUpload records a package upload with its status and duration.
func (m *Metrics) RecordUpload(tenant, status string, duration time.Duration) {
	if m.uploadsTotal == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(tenant, status).Inc()
	m.uploadDuration.WithLabelValues(tenant).Observe(duration.Seconds())
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
