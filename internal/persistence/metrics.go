package persistence

import "github.com/prometheus/client_golang/prometheus"

// Persist attempt outcomes.
const (
	outcomeStored    = "stored"
	outcomeDuplicate = "duplicate"
	outcomeTransient = "transient"
	outcomeFatal     = "fatal"
	outcomeExhausted = "exhausted"
)

var persistAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "loanlimit_persist_attempts_total",
		Help: "Call result persist attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(persistAttemptsTotal)

	for _, o := range []string{outcomeStored, outcomeDuplicate, outcomeTransient, outcomeFatal, outcomeExhausted} {
		persistAttemptsTotal.WithLabelValues(o)
	}
}
