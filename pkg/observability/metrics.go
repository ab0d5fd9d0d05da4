package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	LoginAttemptsTotal    *prometheus.CounterVec
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec

	// Gateway metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	EndpointSyncTotal       *prometheus.CounterVec
	SnapshotBuildDuration   prometheus.Histogram

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	otel *OTelMetrics
}

// MirrorToOTel forwards every Record call to the OpenTelemetry instruments too
func (m *Metrics) MirrorToOTel(o *OTelMetrics) {
	m.otel = o
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_tokens_issued_total",
				Help: "Signed tokens issued by type",
			},
			[]string{"type"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_token_validations_total",
				Help: "Token validations by result",
			},
			[]string{"result"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_ratelimit_decisions_total",
				Help: "Rate limit decisions by limit type and result",
			},
			[]string{"type", "result"},
		),
		EndpointSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_endpoint_sync_total",
				Help: "Rows touched by endpoint sync, by kind",
			},
			[]string{"kind"},
		),
		SnapshotBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_spec_snapshot_build_seconds",
				Help:    "Time to build the gateway spec snapshot",
				Buckets: prometheus.DefBuckets,
			},
		),

		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_storage_errors_total",
				Help: "Storage errors surfaced to callers, by kind",
			},
			[]string{"kind"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_active",
				Help: "Number of in-use database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginAttemptsTotal,
		m.TokensIssuedTotal,
		m.TokenValidationsTotal,
		m.RateLimitDecisionsTotal,
		m.EndpointSyncTotal,
		m.SnapshotBuildDuration,
		m.StorageErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with router.Use so the route template is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RecordLogin counts a login attempt by result
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
	if m.otel != nil {
		m.otel.RecordLogin(result)
	}
}

// RecordTokenIssued counts an issued token by type
func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(tokenType).Inc()
	if m.otel != nil {
		m.otel.RecordTokenIssued(tokenType)
	}
}

// RecordTokenValidation counts a validation by result code ("ok", "expired", ...)
func (m *Metrics) RecordTokenValidation(result string) {
	if m == nil {
		return
	}
	m.TokenValidationsTotal.WithLabelValues(result).Inc()
	if m.otel != nil {
		m.otel.RecordTokenValidation(result)
	}
}

// RecordRateLimit counts a rate limit decision
func (m *Metrics) RecordRateLimit(limitType, result string) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(limitType, result).Inc()
	if m.otel != nil {
		m.otel.RecordRateLimit(limitType, result)
	}
}

// RecordSync adds the counts of one endpoint sync
func (m *Metrics) RecordSync(permissions, endpoints, skipped, mapped int) {
	if m == nil {
		return
	}
	counts := map[string]int{
		"permission":      permissions,
		"endpoint":        endpoints,
		"skipped":         skipped,
		"role_permission": mapped,
	}
	for kind, n := range counts {
		m.EndpointSyncTotal.WithLabelValues(kind).Add(float64(n))
		if m.otel != nil {
			m.otel.RecordSync(kind, n)
		}
	}
}

// ObserveSnapshotBuild records the duration of a snapshot build
func (m *Metrics) ObserveSnapshotBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.SnapshotBuildDuration.Observe(d.Seconds())
	if m.otel != nil {
		m.otel.ObserveSnapshotBuild(d.Seconds())
	}
}

// RecordStorageError counts an error surfaced from storage by kind
func (m *Metrics) RecordStorageError(kind string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(kind).Inc()
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
