package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/glkeru/loyalty/fuel/internal/config"
	interf "github.com/glkeru/loyalty/fuel/internal/interfaces"
	"go.uber.org/zap"
)

var (
	_ interf.RuleStorage    = (*RulesDB)(nil)
	_ interf.AccountStorage = (*PointsDB)(nil)
	_ interf.LedgerStorage  = (*PointsDB)(nil)
	_ interf.ReportStorage  = (*PointsDB)(nil)
	_ interf.CacheStorage   = (*CacheService)(nil)
	_ interf.RuleStorage    = (*MemoryDB)(nil)
	_ interf.AccountStorage = (*MemoryDB)(nil)
	_ interf.LedgerStorage  = (*MemoryDB)(nil)
	_ interf.ReportStorage  = (*MemoryDB)(nil)
)

// Stores - хранилища одного процесса
type Stores struct {
	Rules    interf.RuleStorage
	Accounts interf.AccountStorage
	Ledger   interf.LedgerStorage
	Reports  interf.ReportStorage
}

// Open - Postgres и MongoDB или хранилище в памяти (FUEL_STORAGE=memory)
func Open(ctx context.Context, cfg config.Storage, logger *zap.Logger) (stores Stores, closer func(), err error) {
	if cfg.Mode == config.StorageMemory {
		logger.Warn("Storage in memory, data is lost on exit")
		mem := NewMemoryDB()
		return Stores{mem, mem, mem, mem}, func() {}, nil
	}

	points, err := NewPointsDB(ctx, cfg.Postgres.DSN(), logger)
	if err != nil {
		return stores, nil, errors.Wrap(err, "connect postgres")
	}
	if cfg.Postgres.Migrate {
		if err = points.Migrate(ctx); err != nil {
			points.Close()
			return stores, nil, err
		}
	}
	rules, err := NewRulesDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		points.Close()
		return stores, nil, errors.Wrap(err, "connect mongo")
	}
	closer = func() {
		if err := rules.Close(context.Background()); err != nil {
			logger.Warn("Mongo close", zap.Error(err))
		}
		points.Close()
	}
	return Stores{rules, points, points, points}, closer, nil
}

// OpenCache - Redis, если настроен. Без кэша сервис работает напрямую с базой.
func OpenCache(ctx context.Context, cfg config.Cache, logger *zap.Logger) (interf.CacheStorage, func()) {
	if cfg.Addr == "" {
		return nil, func() {}
	}
	cache, err := NewCacheService(ctx, CacheOptions{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		logger.Error("Cache is not available", zap.String("addr", cfg.Addr), zap.Error(err))
		return nil, func() {}
	}
	return cache, func() { _ = cache.Close() }
}
