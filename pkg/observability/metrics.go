package observability

import (
	"context"
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

	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// SSO connection metrics
	SSOConnectAttemptsTotal *prometheus.CounterVec
	SSOConnectionReady      prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_verifications_total",
				Help: "Total number of token verifications by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_verification_duration_seconds",
				Help:    "Token verification duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_operations_total",
				Help: "Total number of persistent store lookups",
			},
			[]string{"operation", "table", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_store_operation_duration_seconds",
				Help:    "Persistent store lookup duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "table"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_hits_total",
				Help: "Total number of lookup cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_misses_total",
				Help: "Total number of lookup cache misses",
			},
			[]string{"layer"},
		),

		SSOConnectAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_sso_connect_attempts_total",
				Help: "Total number of SSO connection build attempts",
			},
			[]string{"source", "result"},
		),
		SSOConnectionReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_sso_connection_ready",
				Help: "1 when a live SSO connection handle exists, 0 otherwise",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.VerificationsTotal,
		m.VerificationDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SSOConnectAttemptsTotal,
		m.SSOConnectionReady,
	)

	return m
}

// WithOTel mirrors every recorded value into the OTel instruments
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	m.otel = o
	return m
}

// RecordVerification records the outcome of a token verification.
// Safe to call on a nil receiver.
func (m *Metrics) RecordVerification(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(kind, outcome).Inc()
	m.VerificationDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordVerification(context.Background(), kind, outcome, duration)
	}
}

// RecordStoreOperation records a persistent store lookup
func (m *Metrics) RecordStoreOperation(operation, table string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordStoreOperation(context.Background(), operation, table, status, duration)
	}
}

// RecordCacheHit records a cache hit for the given layer ("l1", "l2")
func (m *Metrics) RecordCacheHit(layer string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(layer).Inc()
	if m.otel != nil {
		m.otel.RecordCacheHit(context.Background(), layer)
	}
}

// RecordCacheMiss records a cache miss for the given layer
func (m *Metrics) RecordCacheMiss(layer string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
	if m.otel != nil {
		m.otel.RecordCacheMiss(context.Background(), layer)
	}
}

// RecordSSOConnect records an SSO connection build attempt
func (m *Metrics) RecordSSOConnect(source string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.SSOConnectAttemptsTotal.WithLabelValues(source, result).Inc()
	if m.otel != nil {
		m.otel.RecordSSOConnect(context.Background(), source, result)
	}
}

// SetSSOConnectionReady updates the connection gauge
func (m *Metrics) SetSSOConnectionReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.SSOConnectionReady.Set(1)
	} else {
		m.SSOConnectionReady.Set(0)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathFn maps a request to a low-cardinality label; nil uses the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, pathFn func(*http.Request) string) func(http.Handler) http.Handler {
	if pathFn == nil {
		pathFn = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := pathFn(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
