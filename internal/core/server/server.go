// Package server exposes the coverage service over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/config"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/health"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/middleware"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/coverage"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/refresh"
)

// Coverage is the facade the handlers call.
type Coverage interface {
	ComputeOrCached(ctx context.Context, req coverage.SatelliteRequest) (coverage.Result, error)
	History(ctx context.Context, city string, from, to int) ([]model.CoverageRecord, error)
	CityStats(ctx context.Context, city string) (coverage.CityStats, bool, error)
	Comparison(ctx context.Context, city string) (coverage.Comparison, bool, error)
	Profile(ctx context.Context, city string) (coverage.Profile, error)
	CacheStats(ctx context.Context) (coverage.CacheStats, error)
	CleanupExpiredCache(ctx context.Context, city string) (int, error)
	InvalidateCity(ctx context.Context, city, typ string) (int, error)
	TriggerManualRefresh(ctx context.Context, city string) (refresh.RunSummary, error)
	SchedulerStatus() coverage.SchedulerStatusReport
}

// Inspector answers file questions that need no caching.
type Inspector interface {
	BoundaryInfo(path string) (analyzer.BoundaryInfo, error)
	ValidateCRS(boundaryPath, rasterPath string) (analyzer.CRSCheck, error)
}

type Deps struct {
	Coverage  Coverage
	Inspector Inspector
	Checks    []health.Check
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Log     *slog.Logger
}

type api struct {
	cfg config.Config
	cov Coverage
	ins Inspector
	log *slog.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	a := &api{cfg: cfg, cov: d.Coverage, ins: d.Inspector, log: d.Log.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Logging(a.log))
	r.Use(middleware.Metrics())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Cache"},
		MaxAge:         300,
	}))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Checks...))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/formats", a.formats)

	r.Route("/coverage", func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/satellite", a.satellite)
		r.Post("/boundary/info", a.boundaryInfo)
		r.Post("/validate-crs", a.validateCRS)
	})

	r.Route("/cities/{city}", func(r chi.Router) {
		r.Get("/coverage/history", a.history)
		r.Get("/coverage/stats", a.stats)
		r.Get("/coverage/comparison", a.comparison)
		r.Get("/enriched", a.enriched)
	})

	r.Get("/cache/stats", a.cacheStats)
	r.Get("/scheduler/status", a.schedulerStatus)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken))
		r.Post("/cache/cleanup", a.cacheCleanup)
		r.Delete("/cache/cities/{city}", a.invalidateCity)
		r.Post("/refresh", a.refresh)
	})

	return r
}

// Run serves handler on cfg.Addr until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
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
