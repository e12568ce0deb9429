package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/health"
	middleware "github.com/osgeonepal/obe/internal/core/middleware"
	"github.com/osgeonepal/obe/internal/core/router"
)

// Options carries the optional pieces of the server.
type Options struct {
	Metrics http.Handler
	Ready   map[string]health.Pinger
}

// NewHandler builds the chi router with every route mounted.
func NewHandler(cfg config.Config, logger *slog.Logger, ex router.Extractor, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Ready, cfg.CacheOpTimeout))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", router.HandleSources(ex))
		r.Post("/bbox", router.HandleBBox(cfg))
		r.Post("/extract", router.HandleExtract(logger, cfg, ex))
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, ex router.Extractor, opts Options) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, ex, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a retrieval may run up to FETCH_TIMEOUT per partition
		WriteTimeout: cfg.FetchTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
