package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	actionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexflow_action_total",
			Help: "Server actions by name and outcome.",
		},
		[]string{"action", "outcome"},
	)

	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lexflow_audit_write_failures_total",
		Help: "Audit entries that failed to persist.",
	})

	identityResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexflow_identity_resolutions_total",
			Help: "Profile resolutions by path taken.",
		},
		[]string{"path"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lexflow_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			actionTotal, auditFailures, identityResolutions, ready)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAction counts an action result. outcome is "ok" or an error class.
func ObserveAction(action, outcome string) {
	actionTotal.WithLabelValues(action, outcome).Inc()
}

// AuditWriteFailed counts a swallowed audit failure.
func AuditWriteFailed() {
	auditFailures.Inc()
}

// ObserveIdentity counts which branch identity resolution took.
func ObserveIdentity(path string) {
	identityResolutions.WithLabelValues(path).Inc()
}

// SetReady records the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collections whose second segment is an identifier
var idCollections = map[string]bool{
	"cases":     true,
	"stages":    true,
	"documents": true,
	"clients":   true,
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || !idCollections[parts[1]] {
		return raw
	}
	if parts[2] == "search" {
		return raw
	}
	parts[2] = ":id"
	if len(parts) > 4 {
		return raw
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
