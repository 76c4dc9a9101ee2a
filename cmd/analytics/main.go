// Command analytics runs the standalone search-analytics service.
//
// It consumes search events that searcher replicas publish to Kafka,
// aggregates them in memory and serves GET /api/v1/analytics. With
// analytics.persist set it restores the last Postgres snapshot on start and
// saves a new one every analytics.snapshotInterval.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(cfg *config.Config) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is empty; searcher replicas aggregate in-process without it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	slog.Info("starting analytics service", "port", cfg.Analytics.Port, "topic", cfg.Kafka.Topics.SearchEvents)

	agg := analytics.NewAggregator()
	g, ctx := errgroup.WithContext(ctx)

	checker := health.NewChecker()
	if cfg.Analytics.Persist {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting analytics database: %w", err)
		}
		store := aggregator.NewStore(db, cfg.Analytics.SnapshotRetention)
		if err := store.Restore(ctx, agg); err != nil {
			slog.Warn("analytics restore failed", "error", err)
		}
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := db.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		g.Go(func() error {
			defer db.Close()
			store.Run(ctx, agg, cfg.Analytics.SnapshotInterval)
			return nil
		})
	}

	// One shared group: instances of this service split the partitions.
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, "analytics", agg.HandleMessage)
	g.Go(func() error { return consumer.Start(ctx) })

	mux := http.NewServeMux()
	analytics.NewHandler(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}
