package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission engine metrics
	PermissionChecksTotal *prometheus.CounterVec
	CapabilityGrantsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheInvalidatesTotal *prometheus.CounterVec

	// Workflow metrics
	StageTransitionsTotal   *prometheus.CounterVec
	VersionsEmittedTotal    prometheus.Counter
	WorkflowsCreatedTotal   *prometheus.CounterVec
	RequestsCompletedTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pace_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"module", "outcome"},
		),
		CapabilityGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_capability_grants_total",
				Help: "Total number of capability grants by verification outcome",
			},
			[]string{"verification"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_cache_hits_total",
				Help: "Total number of capability cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_cache_misses_total",
				Help: "Total number of capability cache misses",
			},
			[]string{"backend"},
		),
		CacheInvalidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_cache_invalidates_total",
				Help: "Total number of capability cache invalidations",
			},
			[]string{"backend"},
		),
		StageTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_stage_transitions_total",
				Help: "Total number of approval stage transitions",
			},
			[]string{"to_status"},
		),
		VersionsEmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pace_versions_emitted_total",
				Help: "Total number of approval request versions emitted",
			},
		),
		WorkflowsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_workflows_created_total",
				Help: "Total number of workflows created",
			},
			[]string{"workflow_type"},
		),
		RequestsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pace_requests_completed_total",
				Help: "Total number of approval requests reaching a terminal status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.CapabilityGrantsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidatesTotal,
		m.StageTransitionsTotal,
		m.VersionsEmittedTotal,
		m.WorkflowsCreatedTotal,
		m.RequestsCompletedTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
