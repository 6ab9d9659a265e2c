package main

import (
	"context"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"solsync"
	"solsync/drivers/snapshot/redis"
	"solsync/drivers/snapshot/sqlite"
	"solsync/internal/logging"
	"solsync/internal/metrics"
)

// application is everything main needs once the graph is built.
type application struct {
	cfg      solsync.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	client   *solsync.Client
}

var providerSet = wire.NewSet(
	solsync.ParseEnv,
	provideLogger,
	prometheus.NewRegistry,
	provideMetrics,
	provideSnapshots,
	provideClient,
	wire.Struct(new(application), "*"),
)

func provideLogger(cfg solsync.Config) (*zap.Logger, func(), error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func provideMetrics(reg *prometheus.Registry) (*metrics.Recorder, error) {
	return metrics.New(reg)
}

// provideSnapshots opens the snapshot store the config selects.
func provideSnapshots(ctx context.Context, cfg solsync.Config, logger *zap.Logger) (solsync.SnapshotStore, func(), error) {
	switch cfg.SnapshotDriver {
	case "redis":
		store, err := redis.NewClient(ctx, nil, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("error closing redis snapshot store", zap.Error(err))
			}
		}, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if n, err := store.Purge(ctx); err != nil {
			logger.Warn("purging expired snapshots failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("purged expired snapshots", zap.Int64("count", n))
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("error closing sqlite snapshot store", zap.Error(err))
			}
		}, nil
	default:
		return solsync.NewMemorySnapshotStore(nil), func() {}, nil
	}
}

func provideClient(cfg solsync.Config, snaps solsync.SnapshotStore, logger *zap.Logger, rec *metrics.Recorder) (*solsync.Client, error) {
	return solsync.NewClient(solsync.Options{
		Config:    cfg,
		Snapshots: snaps,
		Logger:    logger,
		Metrics:   rec,
		OnUnauthorized: func() {
			logger.Warn("session rejected by the backend, log in again")
		},
	})
}
