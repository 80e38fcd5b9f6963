package main

import (
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/quota/admin"
	"github.com/noteflow-ai/quotad/pkg/quota/storage"
)

// engine bundles the wired quota components shared by the run, check, and
// limits commands.
type engine struct {
	store    quota.Store
	clock    *quota.Clock
	resolver *quota.Resolver
	guard    *quota.Guard
	admin    *admin.Service
}

// openStore opens the configured counter store backend.
func openStore(cfg *config.Config) (quota.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:               cfg.Store.SQLite.Path,
			BusyTimeout:        cfg.Store.SQLite.BusyTimeout,
			CheckpointInterval: cfg.Store.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		return storage.NewRedisStore(client,
			storage.WithKeyPrefix(cfg.Store.Redis.KeyPrefix),
			storage.WithCounterTTL(cfg.Store.Redis.CounterTTL),
		), nil

	case "memory":
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildEngine wires the store, clock, resolver, guard, and admin service
// from configuration.
func buildEngine(cfg *config.Config, logger *slog.Logger, metrics quota.Metrics) (*engine, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	granularity, err := quota.ParseGranularity(cfg.Quota.Granularity)
	if err != nil {
		store.Close()
		return nil, err
	}

	clock := quota.NewClock(granularity)
	directory := quota.NewStaticDirectory(
		cfg.Directory.Accounts,
		cfg.Directory.DefaultTier,
		cfg.Directory.Strict,
	)
	resolver := quota.NewResolver(store, directory, cfg.Quota.Policy())

	guard := quota.NewGuard(quota.GuardConfig{
		Store:    store,
		Resolver: resolver,
		Clock:    clock,
		Logger:   logger,
		Metrics:  metrics,
	})

	return &engine{
		store:    store,
		clock:    clock,
		resolver: resolver,
		guard:    guard,
		admin:    admin.NewService(store, resolver, clock, logger),
	}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}
