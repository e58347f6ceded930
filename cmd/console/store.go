package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unnet/isp-console/internal/config"
	"github.com/unnet/isp-console/internal/kvstore"
	"github.com/unnet/isp-console/pkg/database"
)

// openStore returns the configured durable store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (kvstore.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warnw("memory store: lockout and session state will not survive a restart")
		return kvstore.NewMemory(), noop, nil
	case config.DriverFile:
		f, err := kvstore.OpenFile(cfg.StoreFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("using file store", "path", cfg.StoreFile)
		return f, noop, nil
	case config.DriverPostgres:
		db, err := database.Connect(ctx, database.Config{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		pg := kvstore.NewPostgres(db)
		if err := pg.EnsureTable(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure console_state table: %w", err)
		}
		logger.Infow("using postgres store")
		return pg, func() {
			if err := db.Close(); err != nil {
				logger.Warnw("db close", "error", err)
			}
		}, nil
	case config.DriverRedis:
		r, err := kvstore.DialRedis(ctx, cfg.RedisURL, cfg.StoreKeyPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connect: %w", err)
		}
		logger.Infow("using redis store", "prefix", cfg.StoreKeyPrefix)
		return r, func() {
			if err := r.Close(); err != nil {
				logger.Warnw("redis close", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
