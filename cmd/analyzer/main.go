package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fx-cortex/internal/aggregation"
	"fx-cortex/internal/anomaly"
	"fx-cortex/internal/cache"
	"fx-cortex/internal/classifier"
	"fx-cortex/internal/config"
	"fx-cortex/internal/domain"
	"fx-cortex/internal/normalizer"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/sink"
	"fx-cortex/internal/storage"
	chstore "fx-cortex/internal/storage/clickhouse"
	"fx-cortex/internal/storage/memory"
	"fx-cortex/internal/storage/migrations"
	pgstore "fx-cortex/internal/storage/postgres"
	"fx-cortex/internal/stream"
	"fx-cortex/internal/symbols"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Start metrics server if enabled
	if cfg.App.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", zap.String("addr", cfg.App.MetricsAddr))
			if err := http.ListenAndServe(cfg.App.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("analyzer failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(environment, level string) (*zap.Logger, error) {
	var zc zap.Config
	if environment == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// One window set shared by the engine and the cache, so every emitted
	// snapshot has a cacheable TTL.
	windows := domain.DefaultWindows

	// Analytics stores: ClickHouse when a DSN is configured, in-memory otherwise.
	var (
		snapshots storage.SnapshotStore = memory.NewSnapshotStore()
		labels    storage.LabelStore    = memory.NewLabelStore()
		anomalies storage.AnomalyStore  = memory.NewAnomalyStore()
		versions  storage.VersionStore  = memory.NewVersionStore()
	)

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()

		snapshots = chstore.NewSnapshotStore(conn)
		labels = chstore.NewLabelStore(conn)
		anomalies = chstore.NewAnomalyStore(conn)
		logger.Info("using clickhouse analytics stores")
	} else {
		logger.Warn("no clickhouse dsn, using in-memory analytics stores")
	}

	// Durable trade history: Postgres when configured.
	var history storage.TradeHistoryStore = memory.NewTradeHistoryStore()
	if cfg.Postgres.DSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		history = pgstore.NewTradeHistoryStore(pool)
		logger.Info("using postgres trade history")
	} else {
		logger.Warn("no postgres dsn, using in-memory trade history")
	}

	// Redis: low-latency state cache and the model-version marker.
	var featureCache *cache.FeatureCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer client.Close()

		featureCache = cache.NewFeatureCache(client, windows, cfg.Redis.Grace)
		versions = cache.NewVersionStore(client)
		logger.Info("using redis state cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("no redis addr, state cache disabled")
	}

	if cfg.Sink.OverflowDir != "" {
		if err := os.MkdirAll(cfg.Sink.OverflowDir, 0o755); err != nil {
			return fmt.Errorf("create overflow dir: %w", err)
		}
	}

	pool, err := stream.NewPool(stream.PoolOptions{
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
		Engine: aggregation.Config{
			Windows:  windows,
			Debounce: cfg.Pipeline.Debounce,
		},
		Detector: anomaly.Config{
			DeviationThreshold: cfg.Anomaly.DeviationThreshold,
			CategoricalJumpPct: cfg.Anomaly.CategoricalJumpPct,
			BaselineWindow:     cfg.Anomaly.BaselineWindow,
			MinSamples:         cfg.Anomaly.MinSamples,
		},
		History: history,
		Cache:   featureCache,
		NewSink: func(workerID int) *sink.Writer {
			return sink.NewWriter(sink.Options{
				Snapshots:     snapshots,
				Labels:        labels,
				Anomalies:     anomalies,
				Logger:        logger,
				Name:          fmt.Sprintf("worker-%d", workerID),
				QueueSize:     cfg.Sink.QueueSize,
				BatchSize:     cfg.Sink.BatchSize,
				FlushInterval: cfg.Sink.FlushInterval,
				MaxRetries:    cfg.Sink.MaxRetries,
				RetryBackoff:  cfg.Sink.RetryBackoff,
				OverflowDir:   cfg.Sink.OverflowDir,
			})
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	scheduler := classifier.NewScheduler(classifier.SchedulerOptions{
		Classifier: classifier.New(classifier.Config{
			Eps:                 cfg.Classifier.Eps,
			MinPts:              cfg.Classifier.MinPts,
			LinkageCutoff:       cfg.Classifier.LinkageCutoff,
			SimilarityTolerance: cfg.Classifier.SimilarityTolerance,
		}),
		SnapshotStore: snapshots,
		LabelStore:    labels,
		VersionStore:  versions,
		Logger:        logger,
		WindowID:      cfg.Classifier.WindowID,
		Interval:      cfg.Classifier.Interval,
		VersionBase:   cfg.Classifier.VersionBase,
	})

	consumer := stream.NewConsumer(stream.ConsumerOptions{
		Brokers:         cfg.Kafka.Brokers,
		Topic:           cfg.Kafka.TradesTopic,
		GroupID:         cfg.Kafka.ConsumerGroup,
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		Normalizer:      normalizer.New(),
		Canonicalizer:   symbols.New(),
		Pool:            pool,
		Logger:          logger,
	})
	defer consumer.Close()

	go pool.Run(ctx)
	go scheduler.Run(ctx)

	logger.Info("starting cdc consumer",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.TradesTopic),
		zap.Int("workers", cfg.Pipeline.Workers),
	)
	return consumer.Run(ctx)
}
