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

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkgate_callbacks_total",
			Help: "Authorization callbacks by outcome.",
		},
		[]string{"outcome"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkgate_webhooks_total",
			Help: "Inbound provider webhooks by type and result.",
		},
		[]string{"type", "result"},
	)

	forcedLogoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkgate_forced_logouts_total",
		Help: "Local sessions terminated because the provider reported a newer logout.",
	})

	broadcastFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkgate_broadcast_failures_total",
		Help: "Real-time logout broadcasts that could not be delivered.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkgate_build_info",
			Help: "Running linkgate version and commit; always 1.",
		},
		[]string{"version", "commit"},
	)

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			callbacksTotal, webhooksTotal, forcedLogoutsTotal, broadcastFailuresTotal,
			buildInfo,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo publishes the running version. Earlier labels are dropped so only one
// series stays at 1.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// ObserveCallback counts an authorization callback outcome.
func ObserveCallback(outcome string) {
	callbacksTotal.WithLabelValues(outcome).Inc()
}

// ObserveWebhook counts a processed webhook.
func ObserveWebhook(eventType, result string) {
	webhooksTotal.WithLabelValues(eventType, result).Inc()
}

// ObserveForcedLogout counts a fenced session termination.
func ObserveForcedLogout() {
	forcedLogoutsTotal.Inc()
}

// ObserveBroadcastFailure counts a dropped real-time event.
func ObserveBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

// Instrument measures throughput, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var knownPaths = map[string]struct{}{
	"/":                        {},
	"/metrics":                 {},
	"/healthz":                 {},
	"/readyz":                  {},
	"/login":                   {},
	"/logout":                  {},
	"/federation/login":        {},
	"/federation/connect":      {},
	"/federation/redirect":     {},
	"/federation/webhook":      {},
	"/federation/channel-auth": {},
	"/federation/events":       {},
}

// CanonicalPath folds request paths into a bounded label set.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
