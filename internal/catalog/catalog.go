// Package catalog fetches source index documents (tile boundaries, dataset
// link tables). Parsed catalogs live only for one retrieval; raw bytes may be
// cached across retrievals through an explicitly configured Store.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osgeonepal/obe/internal/cache/keys"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/observability"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Loader struct {
	exec      executor.Interface
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewLoader builds a loader; store may be nil to disable caching.
func NewLoader(exec executor.Interface, store Store, ttl time.Duration, logger *slog.Logger) *Loader {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{exec: exec, store: store, ttl: ttl, opTimeout: 2 * time.Second, logger: logger}
}

// Fetch returns the catalog bytes for source at rawURL. Cache failures are
// logged and fall through to the upstream.
func (l *Loader) Fetch(ctx context.Context, source, rawURL string) ([]byte, error) {
	key := keys.Catalog(source, rawURL)

	if b, ok := l.lookup(ctx, key); ok {
		return b, nil
	}

	start := time.Now()
	b, err := l.exec.Get(ctx, source+"_catalog", rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s catalog: %w", source, err)
	}
	l.logger.InfoContext(ctx, "catalog fetched",
		"source", source, "bytes", len(b), "duration", time.Since(start).String())

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opTimeout)
	defer cancel()
	if err := l.store.Set(sctx, key, b, l.ttl); err != nil {
		l.logger.WarnContext(ctx, "catalog cache set failed", "source", source, "err", err)
	}
	return b, nil
}

func (l *Loader) lookup(ctx context.Context, key string) ([]byte, bool) {
	if _, nop := l.store.(NopStore); nop {
		return nil, false
	}
	gctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	b, ok, err := l.store.Get(gctx, key)
	switch {
	case err != nil:
		observability.IncCatalogCache("error")
		l.logger.WarnContext(ctx, "catalog cache get failed", "key", key, "err", err)
		return nil, false
	case !ok:
		observability.IncCatalogCache("miss")
		return nil, false
	default:
		observability.IncCatalogCache("hit")
		return b, true
	}
}
