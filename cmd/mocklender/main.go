// mocklender serves the lender loan-limit contract for every provider in the
// catalog with randomized latency and outcomes.
package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/roomdoor/fan-out-call/internal/config"
	"github.com/roomdoor/fan-out-call/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	sim := cfg.SimulatorConfig()
	logger.Info("mocklender: starting",
		"addr", cfg.Mock.ListenAddr,
		"providers", sim.ProviderCount,
		"success_rate_percent", sim.SuccessRatePercent,
		"slow_count", sim.SlowCount,
	)

	srv := &http.Server{
		Addr:              cfg.Mock.ListenAddr,
		Handler:           provider.NewSimulator(sim, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
