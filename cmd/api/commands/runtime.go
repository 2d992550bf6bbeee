package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/sapling/core/internal/adapters/cache"
	"github.com/sapling/core/internal/adapters/catalog"
	"github.com/sapling/core/internal/adapters/docstore"
	"github.com/sapling/core/internal/application/services"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/database"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/infrastructure/server"
	"github.com/sapling/core/internal/ports"
)

// runtime holds everything a command needs, built from configuration.
type runtime struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *database.DB
	redis    *redis.Client
	store    ports.DocumentStore
	catalog  *catalog.Catalog
	registry *prometheus.Registry
	services *services.Services
}

func loadConfig(path string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, appLogger, nil
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, appLogger, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   appLogger,
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := database.New(cfg.Database)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.db = db

		store, err := docstore.NewPostgresStore(db, appLogger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to start document store: %w", err)
		}
		rt.store = store
	default:
		appLogger.Warnw("Using the in-memory document store; data is lost on exit")
		rt.store = docstore.NewMemoryStore()
	}

	var idempotency ports.IdempotencyStore
	if cfg.Redis.Enabled {
		client, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		idempotency = cache.NewRedisIdempotencyStore(client)
	} else {
		idempotency = cache.NewMemoryIdempotencyStore()
	}

	cat, err := catalog.Load(cfg.Catalog.Path, appLogger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load tree catalog: %w", err)
	}
	rt.catalog = cat

	rt.services = services.New(cfg, rt.store, cat, idempotency, rt.registry, appLogger)

	return rt, nil
}

func (rt *runtime) server() (*server.Server, error) {
	return server.New(rt.cfg, server.Dependencies{
		Store:    rt.store,
		Services: rt.services,
		Registry: rt.registry,
		DB:       rt.db,
		Redis:    rt.redis,
	}, rt.logger)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warnw("Failed to close document store", "error", err)
		}
	}
	if rt.redis != nil {
		rt.redis.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
	rt.logger.Close()
}
