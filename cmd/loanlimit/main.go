package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/roomdoor/fan-out-call/internal/api"
	"github.com/roomdoor/fan-out-call/internal/catalog"
	"github.com/roomdoor/fan-out-call/internal/config"
	"github.com/roomdoor/fan-out-call/internal/engine"
	"github.com/roomdoor/fan-out-call/internal/fanout"
	"github.com/roomdoor/fan-out-call/internal/lifecycle"
	"github.com/roomdoor/fan-out-call/internal/mq"
	"github.com/roomdoor/fan-out-call/internal/persistence"
	"github.com/roomdoor/fan-out-call/internal/provider"
	"github.com/roomdoor/fan-out-call/internal/store"
)

const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("loanlimit: starting",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DB.Driver,
		"providers", cfg.Providers.Count,
		"provider_base_url", cfg.Providers.BaseURL,
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	db, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.Path, cfg.DB.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	fc := cfg.FanoutConfig()
	lenders := provider.NewHTTPClient(cfg.Providers.BaseURL, &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        fc.Parallelism,
			MaxIdleConnsPerHost: fc.Parallelism,
			IdleConnTimeout:     90 * time.Second,
		},
	}, logger)

	reg := fanout.NewStandardRegistry(lenders, fc, logger)
	defer reg.Close()

	lc := lifecycle.NewManager(db, cfg.RequiredCompletion(), logger)
	persister := persistence.New(db, logger)

	var opts []engine.Option
	if cfg.AMQP.URL != "" {
		notifier, closeMQ, err := setupNotifier(ctx, cfg.AMQP.URL, logger)
		if err != nil {
			log.Fatalf("failed to set up notifications: %v", err)
		}
		defer closeMQ()
		opts = append(opts, engine.WithNotifier(notifier))
	}

	orch := engine.NewOrchestrator(lc, reg, catalog.New(cfg.Providers.Count), persister, logger, opts...)
	srv := api.NewServer(cfg.ListenAddr, db, reg, orch, lc, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	logger.Info("loanlimit: waiting for in-flight runs")
	orch.Wait()
}

// setupNotifier connects to RabbitMQ, declares the run topology and returns
// the notifier with a function that closes the connection.
func setupNotifier(ctx context.Context, url string, logger *slog.Logger) (engine.Notifier, func(), error) {
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}

	notifier := mq.NewRunNotifier(mq.NewPublisher(conn, logger))
	return notifier, func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close amqp connection", "error", err)
		}
	}, nil
}
