package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomdoor/fan-out-call/internal/model"
)

var (
	runsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanlimit_runs_finalized_total",
			Help: "Runs that reached a terminal status.",
		},
		[]string{"status"},
	)

	runElapsedSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loanlimit_run_elapsed_seconds",
			Help:    "Wall-clock time from run creation to its terminal status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(runsFinalizedTotal)
	prometheus.MustRegister(runElapsedSeconds)

	for _, s := range []model.RunStatus{model.StatusCompleted, model.StatusPartialFailure, model.StatusFailed} {
		runsFinalizedTotal.WithLabelValues(string(s))
	}
}
