// testserver starts the gateway with an in-memory store and the mock lender
// mounted on the same listener, for local and end-to-end testing.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roomdoor/fan-out-call/internal/api"
	"github.com/roomdoor/fan-out-call/internal/catalog"
	"github.com/roomdoor/fan-out-call/internal/engine"
	"github.com/roomdoor/fan-out-call/internal/fanout"
	"github.com/roomdoor/fan-out-call/internal/lifecycle"
	"github.com/roomdoor/fan-out-call/internal/persistence"
	"github.com/roomdoor/fan-out-call/internal/provider"
	"github.com/roomdoor/fan-out-call/internal/store"
)

const (
	lenderPrefix = "/lenders"
	providers    = 10
)

func main() {
	addr := ":8080"
	if v := os.Getenv("LOANLIMIT_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	sim := provider.DefaultSimulatorConfig()
	sim.ProviderCount = providers
	sim.MinLatency = 20 * time.Millisecond
	sim.MaxLatency = 100 * time.Millisecond

	lenders := provider.NewHTTPClient(selfURL(addr)+lenderPrefix, nil, logger)
	reg := fanout.NewStandardRegistry(lenders, fanout.Config{
		PerCallTimeout: 2 * time.Second,
		Parallelism:    providers,
		CorePoolSize:   providers,
		MaxPoolSize:    providers,
		QueueCapacity:  providers,
		MaxConcurrency: providers,
	}, logger)
	defer reg.Close()

	lc := lifecycle.NewManager(db, 10*time.Second, logger)
	orch := engine.NewOrchestrator(lc, reg, catalog.New(providers), persistence.New(db, logger), logger)
	srv := api.NewServer(addr, db, reg, orch, lc, logger)
	srv.Router().Mount(lenderPrefix, provider.NewSimulator(sim, logger))

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	orch.Wait()
}

// selfURL returns the loopback URL of a listen address such as ":8080".
func selfURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
