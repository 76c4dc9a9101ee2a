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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/redis"
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
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"vocabulary_source", cfg.Vocabulary.Source,
	)
	m := metrics.New(nil)

	source, err := indexer.OpenSource(ctx, cfg)
	if err != nil {
		return err
	}
	engine, err := indexer.NewEngine(ctx, source, m)
	if err != nil {
		return fmt.Errorf("building initial vocabulary snapshot: %w", err)
	}
	defer engine.Close()

	g, ctx := errgroup.WithContext(ctx)
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(cache.NewRedisBackend(redisClient), cfg.Redis.CacheTTL, m)
			engine.OnSwap(func(old, _ *indexer.Snapshot) {
				if old == nil {
					return
				}
				if _, err := queryCache.Invalidate(context.Background()); err != nil {
					slog.Warn("cache flush after vocabulary swap failed", "error", err)
				}
			})
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Vocabulary.Watch {
		g.Go(func() error {
			if err := engine.Watch(ctx, cfg.Vocabulary.ReloadDebounce); err != nil {
				slog.Error("vocabulary watcher stopped", "error", err)
			}
			return nil
		})
	}

	var reloads kafka.Publisher
	if kafkaEnabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.VocabularyReload)
		defer producer.Close()
		reloads = producer

		// every replica must see every reload, so each gets its own group
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.VocabularyReload, "reload-"+replicaID(), engine.HandleReloadMessage)
		g.Go(func() error { return consumer.Start(ctx) })
	}

	agg := analytics.NewAggregator()
	var collector *analytics.Collector
	if cfg.Analytics.Enabled {
		var closeAnalytics func()
		collector, closeAnalytics, err = startAnalytics(ctx, g, cfg, agg)
		if err != nil {
			return err
		}
		defer closeAnalytics()
	}

	checker := health.NewChecker()
	checker.Register("vocabulary", func(ctx context.Context) health.ComponentHealth {
		if err := engine.Ready(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		snap := engine.Current()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d codes, version %d", snap.Store.Len(), snap.Version),
		}
	})
	checker.RegisterOptional("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(handler.Deps{
		Engine:    engine,
		Cache:     queryCache,
		Collector: collector,
		Metrics:   m,
		Reloads:   reloads,
	}, handler.Limits{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		MinScore:     cfg.Search.MinScore,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	analytics.NewHandler(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		g.Go(func() error {
			limiter.Run(ctx)
			return nil
		})
		chain = middleware.RateLimit(limiter)(chain)
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.AllowedOrigins)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	servers := []*http.Server{server}
	if cfg.Metrics.Enabled {
		servers = append(servers, metrics.NewServer(cfg.Metrics.Port))
	}
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// startAnalytics wires the collector to Kafka when brokers are configured,
// otherwise straight into the local aggregator, and optionally restores and
// persists aggregated stats in Postgres. The returned func flushes the
// collector before closing its producer.
func startAnalytics(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	agg *analytics.Aggregator,
) (*analytics.Collector, func(), error) {
	var sink analytics.Sink = analytics.LocalSink{Aggregator: agg}
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		sink = producer
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, "analytics-"+replicaID(), agg.HandleMessage)
		g.Go(func() error { return consumer.Start(ctx) })
	}

	if cfg.Analytics.Persist {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting analytics database: %w", err)
		}
		store := aggregator.NewStore(db, cfg.Analytics.SnapshotRetention)
		if err := store.Restore(ctx, agg); err != nil {
			slog.Warn("analytics restore failed", "error", err)
		}
		g.Go(func() error {
			defer db.Close()
			store.Run(ctx, agg, cfg.Analytics.SnapshotInterval)
			return nil
		})
	}

	collector := analytics.NewCollector(sink, cfg.Analytics.BufferSize)
	collector.Start(ctx)
	return collector, func() {
		collector.Close()
		if producer != nil {
			if err := producer.Close(); err != nil {
				slog.Error("closing analytics producer", "error", err)
			}
		}
	}, nil
}

func replicaID() string {
	if id := os.Getenv("ICD_REPLICA_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return host
}
