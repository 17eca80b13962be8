package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomdoor/fan-out-call/internal/fanout"
)

const unmatched = "unmatched"

// Submission outcomes.
const (
	outcomeAccepted = "accepted"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
)

// unknownMode labels submissions for a mode no executor is registered for,
// which keeps the mode label bounded.
const unknownMode = "unknown"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanlimit_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanlimit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	querySubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanlimit_query_submissions_total",
			Help: "Loan limit query submissions by fan-out mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(querySubmissionsTotal)

	modes := []string{fanout.ModeBounded, fanout.ModeWorkerPool, fanout.ModeFlowControlled, fanout.ModeSequential}
	for _, mode := range modes {
		for _, outcome := range []string{outcomeAccepted, outcomeInvalid, outcomeError} {
			querySubmissionsTotal.WithLabelValues(mode, outcome)
		}
	}
	querySubmissionsTotal.WithLabelValues(unknownMode, outcomeInvalid)
}

// recordSubmission counts one submit request against its fan-out mode.
func (s *Server) recordSubmission(mode, outcome string) {
	if _, err := s.registry.Resolve(mode); err != nil {
		mode = unknownMode
	}
	querySubmissionsTotal.WithLabelValues(mode, outcome).Inc()
}

// metricsMiddleware records request count and duration per chi route
// pattern. The submit route pattern hides the mode; see recordSubmission.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route pattern or "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
