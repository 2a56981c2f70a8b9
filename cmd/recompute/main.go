// Command recompute rebuilds feature snapshots from the durable trade
// history. Use it after state corruption, schema changes, or to backfill a
// fresh analytics database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fx-cortex/internal/aggregation"
	"fx-cortex/internal/cache"
	"fx-cortex/internal/config"
	"fx-cortex/internal/domain"
	"fx-cortex/internal/storage"
	chstore "fx-cortex/internal/storage/clickhouse"
	"fx-cortex/internal/storage/memory"
	"fx-cortex/internal/storage/migrations"
	pgstore "fx-cortex/internal/storage/postgres"
)

func main() {
	traderID := flag.Int64("trader", 0, "Recompute a single trader id (0 = all traders)")
	dryRun := flag.Bool("dry-run", false, "Compute snapshots without writing them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, logger, *traderID, *dryRun); err != nil {
		logger.Fatal("recompute failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, traderID int64, dryRun bool) error {
	// Same window set for the rebuild engine and the cache.
	windows := domain.DefaultWindows

	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required: the trade history is the recompute source")
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	history := pgstore.NewTradeHistoryStore(pool)

	var snapshots storage.SnapshotStore = memory.NewSnapshotStore()
	if cfg.ClickHouse.DSN != "" && !dryRun {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()
		snapshots = chstore.NewSnapshotStore(conn)
	}

	var featureCache *cache.FeatureCache
	if cfg.Redis.Addr != "" && !dryRun {
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
	}

	var ids []int64
	if traderID != 0 {
		ids = []int64{traderID}
	} else {
		ids, err = history.ListTraderIDs(ctx)
		if err != nil {
			return fmt.Errorf("list trader ids: %w", err)
		}
	}
	logger.Info("recomputing traders", zap.Int("count", len(ids)), zap.Bool("dry_run", dryRun))

	// Debounce off: every window emits exactly one fresh snapshot per trader.
	engine := aggregation.NewEngine(aggregation.Config{Windows: windows, Debounce: 0})
	now := time.Now()

	var written int
	for _, id := range ids {
		trader, err := history.GetTrader(ctx, id)
		if err != nil {
			return fmt.Errorf("load trader %d: %w", id, err)
		}
		trades, err := history.GetTradesByTraderID(ctx, id)
		if err != nil {
			return fmt.Errorf("load trades for trader %d: %w", id, err)
		}

		out := engine.Rebuild(trader, trades, now)
		if dryRun {
			for _, s := range out {
				logger.Info("computed snapshot",
					zap.Int64("trader_id", s.TraderID),
					zap.String("window", s.WindowID),
					zap.Int("trade_count", s.Features.TradeCount),
					zap.Float64("win_rate", s.Features.WinRate),
				)
			}
			continue
		}

		if err := snapshots.PutBulk(ctx, out); err != nil {
			return fmt.Errorf("store snapshots for trader %d: %w", id, err)
		}
		written += len(out)

		if featureCache != nil {
			for _, s := range out {
				if err := featureCache.Put(ctx, s); err != nil {
					logger.Warn("cache snapshot", zap.Int64("trader_id", id), zap.Error(err))
				}
			}
		}

		// Drop the trader's state so one pass over a large fleet stays flat
		// on memory.
		engine.Drop(id)
	}

	logger.Info("recompute complete", zap.Int("traders", len(ids)), zap.Int("snapshots", written))
	return nil
}
