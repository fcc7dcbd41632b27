package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeDegraded = "degraded"
	outcomeNotBuilt = "not_built"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queryRequestsTotal counts /api/query requests by outcome: ok, fallback,
	// degraded, not_built or error.
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the service time of each query, embedding
	// and summarization included.
	queryDurationSeconds *prometheus.HistogramVec

	// rebuildTotal counts rebuilds by outcome: ok or error.
	rebuildTotal *prometheus.CounterVec

	// indexItems is the item count of the snapshot currently served.
	indexItems prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osdrrag",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/query requests, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "osdrrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Service time of /api/query requests including summarization.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		rebuildTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osdrrag",
			Subsystem: "rebuild",
			Name:      "total",
			Help:      "Total number of snapshot rebuilds, partitioned by outcome.",
		}, []string{"outcome"}),

		indexItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "osdrrag",
			Subsystem: "index",
			Name:      "items",
			Help:      "Number of items in the snapshot currently served.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "osdrrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "osdrrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for next under handler name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
