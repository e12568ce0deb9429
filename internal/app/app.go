// Package app wires the extraction service from configuration. Both the CLI
// and the HTTP server build their dependencies here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/osgeonepal/obe/internal/cache/redisstore"
	"github.com/osgeonepal/obe/internal/catalog"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/health"
	"github.com/osgeonepal/obe/internal/core/httpclient"
	"github.com/osgeonepal/obe/internal/events"
	"github.com/osgeonepal/obe/internal/events/kafka"
	"github.com/osgeonepal/obe/internal/footprints"

	_ "github.com/osgeonepal/obe/internal/sources/all"
)

type App struct {
	Service *footprints.Service
	// Ready lists the backing services /readyz should ping.
	Ready map[string]health.Pinger

	closers []func() error
}

// Build assembles the service. A redis catalog cache that cannot be reached
// is an error; an unreachable event bus only disables events.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{Ready: map[string]health.Pinger{}}

	store, err := a.catalogStore(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	exec := executor.New(logger, httpclient.NewOutbound(cfg.HTTPTimeout))
	loader := catalog.NewLoader(exec, store, cfg.Catalog.TTL, logger)

	var pub events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		p, err := kafka.NewPublisher(config.Brokers(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.Queue, logger)
		if err != nil {
			logger.Warn("events disabled", "err", err)
		} else {
			pub = p
			a.closers = append(a.closers, p.Close)
		}
	}

	a.Service = footprints.New(cfg, logger, exec, loader, footprints.WithPublisher(pub))
	logger.Info("service ready",
		"catalog_cache", cfg.Catalog.Cache,
		"events", cfg.Events.Enabled,
		"workers", cfg.FetchWorkers)
	return a, nil
}

func (a *App) catalogStore(ctx context.Context, cfg config.Config) (catalog.Store, error) {
	switch cfg.Catalog.Cache {
	case "", "none":
		return nil, nil
	case "memory":
		return catalog.NewMemoryStore(cfg.Catalog.Size, cfg.Catalog.TTL), nil
	case "redis":
		c, err := OpenRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		a.Ready["redis"] = c
		return catalog.NewRedisStore(c), nil
	default:
		return nil, fmt.Errorf("catalog cache: unknown backend %q (want none, memory or redis)", cfg.Catalog.Cache)
	}
}

// OpenRedis connects the catalog cache client described by cfg.
func OpenRedis(ctx context.Context, cfg config.Config) (*redisstore.Client, error) {
	c, err := redisstore.New(ctx, cfg.RedisAddr,
		redisstore.WithPoolSize(cfg.RedisPoolSize),
		redisstore.WithDialTimeout(cfg.RedisDial),
		redisstore.WithReadTimeout(cfg.CacheOpTimeout),
		redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
	if err != nil {
		return nil, fmt.Errorf("catalog cache: %w", err)
	}
	return c, nil
}

// Close releases the event producer and cache connections in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
