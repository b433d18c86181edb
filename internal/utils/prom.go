package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// RemoteCalls counts calls to the metrics and Trello APIs by outcome (ok, not_found, error).
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_calls_total",
			Help: "Calls to external APIs",
		},
		[]string{"service", "outcome"},
	)

	CardPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_status_polls_total",
			Help: "Card status poll cycles run by the leader",
		},
		[]string{"outcome"},
	)

	LeaderGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "card_sync_leader",
			Help: "1 while this instance holds the card sync lock",
		},
	)

	MetricsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_cache_lookups_total",
			Help: "Video metric cache lookups",
		},
		[]string{"result"},
	)
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event handlers working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Metrics records request count and latency labelled by route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
