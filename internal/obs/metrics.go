package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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

	// AuditEmitFailures counts audit entries that could not be written after the primary action succeeded.
	AuditEmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_audit_emit_failures_total",
			Help: "Audit log emissions that failed after the primary action succeeded.",
		},
		[]string{"entity_type"},
	)

	// SignatureTransitions counts recipient and envelope state changes.
	SignatureTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_signature_transitions_total",
			Help: "Signature workflow transitions.",
		},
		[]string{"transition"},
	)

	// WebhookEvents counts inbound payment webhook deliveries by type and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_webhook_events_total",
			Help: "Payment webhook deliveries.",
		},
		[]string{"type", "outcome"},
	)

	// OutboundCalls counts calls to third-party providers (payments, LLM, mail).
	OutboundCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_outbound_calls_total",
			Help: "Calls to third-party providers.",
		},
		[]string{"provider", "outcome"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuditEmitFailures, SignatureTransitions, WebhookEvents, OutboundCalls,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
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

// CanonicalPath collapses identifier segments so metric label cardinality stays bounded.
// Segments that follow a collection name under /v1/companies are replaced by ":id";
// function and storage paths keep their first segment only.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/v1/storage/") {
		return "/v1/storage/:object"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := range parts {
		if i == 0 {
			continue
		}
		if isCollection(parts[i-1]) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isCollection(segment string) bool {
	switch segment {
	case "companies", "contracts", "versions", "documents", "envelopes", "roles":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
