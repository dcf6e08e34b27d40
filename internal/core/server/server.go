package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/config"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/health"
	middleware "github.com/mohammed-shakir/eo-timeseries/internal/core/middleware"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/router"
	"github.com/mohammed-shakir/eo-timeseries/internal/metrics"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Analyzer  router.Analyzer
	Metrics   *metrics.Provider
	Checks    []health.Check
	Readiness health.ReadinessReporter
}

// Handler builds the routed handler without binding a listener.
func Handler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Checks, d.Readiness, 2*time.Second))
	if d.Metrics != nil {
		r.Method(http.MethodGet, d.Metrics.Path(), d.Metrics.Handler())
	}

	r.Post(router.RouteImageCollection, router.ImageCollection(logger, d.Analyzer))
	r.Post(router.RouteTimeSeries, router.TimeSeries(logger, d.Analyzer))
	r.Get(router.RouteFeatureTileURL, router.FeatureCollectionTileURL(logger, d.Analyzer))
	r.Get(router.RouteCatalog, router.Catalog(d.Analyzer))
	return r
}

// newHTTPServer sets no write deadline. Each remote call a request makes is
// bounded by the outbound client timeout instead.
func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := newHTTPServer(cfg, Handler(cfg, logger, d))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr, "routes", router.Describe())
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
