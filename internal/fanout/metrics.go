package fanout

import "github.com/prometheus/client_golang/prometheus"

// Provider call outcomes.
const (
	outcomeSuccess   = "success"
	outcomeRejected  = "rejected"
	outcomeException = "exception"
)

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanlimit_provider_calls_total",
			Help: "Provider calls by strategy mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanlimit_provider_call_duration_seconds",
			Help:    "Provider call latency by strategy mode.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode"},
	)

	providerCallsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loanlimit_provider_calls_in_flight",
			Help: "Provider calls currently awaiting a response.",
		},
		[]string{"mode"},
	)

	poolWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loanlimit_worker_pool_workers",
			Help: "Live workers in the worker-pool strategy.",
		},
	)
)

func init() {
	prometheus.MustRegister(providerCallsTotal)
	prometheus.MustRegister(providerCallDuration)
	prometheus.MustRegister(providerCallsInFlight)
	prometheus.MustRegister(poolWorkers)

	for _, mode := range []string{ModeBounded, ModeWorkerPool, ModeFlowControlled, ModeSequential} {
		for _, o := range []string{outcomeSuccess, outcomeRejected, outcomeException} {
			providerCallsTotal.WithLabelValues(mode, o)
		}
		providerCallDuration.WithLabelValues(mode)
		providerCallsInFlight.WithLabelValues(mode)
	}
}
