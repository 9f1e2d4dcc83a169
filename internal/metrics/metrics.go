// Package metrics provides Prometheus instrumentation for chainbot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts events dispatched, partitioned by source and type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_events_total",
		Help: "Total number of normalized events dispatched",
	}, []string{"source", "type"})

	// HandlerErrors counts handler errors and panics caught at dispatch.
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_handler_errors_total",
		Help: "Handler failures caught by the dispatcher",
	}, []string{"source"})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_risk_rejections_total",
		Help: "Candidate trades rejected by the risk gate",
	}, []string{"reason"})

	// Executions counts swap submissions by venue and result (success/failure).
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_executions_total",
		Help: "Swap submissions by venue and result",
	}, []string{"venue", "result"})

	ExecutionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainbot_execution_latency_seconds",
		Help:    "Swap submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	// PositionsOpen tracks the number of open positions in the ledger.
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainbot_positions_open",
		Help: "Number of currently open positions",
	})

	PositionCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_position_closes_total",
		Help: "Closed positions by reason",
	}, []string{"reason"})

	// SourceRestarts counts supervisor restarts per source.
	SourceRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_source_restarts_total",
		Help: "Event source restarts performed by the supervisor",
	}, []string{"source"})

	// SourceReconnects counts transport reconnects inside a source loop.
	SourceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_source_reconnects_total",
		Help: "Transport reconnects inside event source loops",
	}, []string{"source"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainbot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency, labelled by the chi route
// pattern to keep path cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
