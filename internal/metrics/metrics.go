package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes
const (
	LoginSuccess     = "success"
	LoginInvalid     = "invalid_credentials"
	LoginInactive    = "inactive"
	LoginUnavailable = "unavailable"
)

// Metrics holds the application collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	loginAttempts  *prometheus.CounterVec
	usersCreated   prometheus.Counter
	usersDeleted   *prometheus.CounterVec
	authzDenied    *prometheus.CounterVec
	sessionsPurged prometheus.Counter
	auditFailures  prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voc_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voc_users_created_total",
			Help: "Users created through the directory.",
		}),
		usersDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voc_users_deleted_total",
			Help: "Users deleted by mode.",
		}, []string{"mode"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voc_authorization_denied_total",
			Help: "Requests denied for a missing permission.",
		}, []string{"permission"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voc_sessions_purged_total",
			Help: "Dangling session index entries removed by the cleanup job.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voc_audit_write_failures_total",
			Help: "Activity log entries that could not be persisted.",
		}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.loginAttempts, m.usersCreated, m.usersDeleted, m.authzDenied,
		m.sessionsPurged, m.auditFailures,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LoginAttempt counts a login by outcome
func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

// UserCreated counts a created user
func (m *Metrics) UserCreated() {
	if m == nil {
		return
	}
	m.usersCreated.Inc()
}

// UserDeleted counts a deleted user by mode
func (m *Metrics) UserDeleted(mode string) {
	if m == nil {
		return
	}
	m.usersDeleted.WithLabelValues(mode).Inc()
}

// AuthorizationDenied counts a denial for permission
func (m *Metrics) AuthorizationDenied(permission string) {
	if m == nil {
		return
	}
	m.authzDenied.WithLabelValues(permission).Inc()
}

// SessionsPurged adds n pruned session index entries
func (m *Metrics) SessionsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsPurged.Add(float64(n))
}

// AuditWriteFailed counts an activity log entry that was not persisted
func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// Instrument measures request count, latency and in-flight requests.
// Requests are labelled by their ServeMux pattern so path parameters do
// not explode label cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
