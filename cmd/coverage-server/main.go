package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/redisstore"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/cache/sqlstore"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/config"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/health"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/httpclient"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/observability"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/server"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/coverage"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/enrich"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/events"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/logger"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/mapper"
	h3mapper "github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/mapper/h3"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/refresh"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/scheduler"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/store"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/pkg/invalidation/kafka"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", "", "dotenv file to load (default .env.local and .env)")
	addr := flag.String("addr", "", "listen address, overrides ADDR")
	backend := flag.String("cache-backend", "", "cache backend (redis|sqlite), overrides CACHE_BACKEND")
	noTasks := flag.Bool("no-background-tasks", false, "do not start the scheduler")
	runJob := flag.String("run-job", "", "run one scheduled job ("+scheduler.JobWeeklyRefresh+"|"+scheduler.JobCacheCleanup+") and exit")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		log.Printf("dotenv: %v", err)
		return 1
	}
	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *backend != "" {
		cfg.CacheBackend = strings.ToLower(strings.TrimSpace(*backend))
	}
	if *noTasks {
		cfg.BackgroundTasks = false
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   int(cfg.LogSampleN),
		Service:   "urban-green",
		Component: "coverage-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	appLog.Info("starting coverage server",
		"addr", cfg.Addr,
		"version", Version,
		"cache_backend", cfg.CacheBackend,
		"workers", cfg.AnalyzerWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := observability.NewProvider(observability.BuildInfo{
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
	})

	st, err := store.Open(ctx, cfg.DatabasePath, appLog)
	if err != nil {
		appLog.Error("database open failed", "path", cfg.DatabasePath, "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	cacheStore, err := openCacheStore(ctx, cfg, st)
	if err != nil {
		appLog.Error("cache backend setup failed", "backend", cfg.CacheBackend, "err", err)
		return 1
	}
	defer func() { _ = cacheStore.Close() }()
	cacheSvc := cache.New(cacheStore, cache.Options{
		TTL:      ttlPolicy(cfg, appLog),
		Coalesce: cfg.CacheCoalesceMisses,
		Logger:   appLog,
	})

	var hex mapper.Interface
	if cfg.HexResolution > 0 {
		hex = h3mapper.New()
	}
	an := analyzer.New(analyzer.Options{
		NameAttribute:  cfg.NameAttribute,
		AmbiguousMatch: analyzer.AmbiguityPolicy(cfg.AmbiguousMatch),
		HexResolution:  cfg.HexResolution,
	}, hex, appLog)
	pool := analyzer.NewPool(an, cfg.AnalyzerWorkers)

	refOpts := []refresh.Option{refresh.WithLogger(appLog)}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, 0, appLog)
		if err != nil {
			appLog.Error("events publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		refOpts = append(refOpts, refresh.WithNotifier(pub))
	}
	ref := refresh.New(refresh.Config{
		Threshold:     cfg.NDVIThreshold,
		NameAttribute: cfg.NameAttribute,
		BatchSize:     cfg.BatchSize,
		BatchPause:    cfg.BatchPause,
		StaleAfter:    cfg.StaleAfter,
	}, st, pool, cacheSvc, refresh.DataFinder{
		SatelliteDir:     cfg.SatelliteDataDir,
		BoundaryDir:      cfg.ShapefileDir,
		RegionalFallback: cfg.RegionalFallback,
	}, refOpts...)

	sched, err := newScheduler(cfg, appLog, ref, cacheSvc)
	if err != nil {
		appLog.Error("scheduler setup failed", "err", err)
		return 1
	}
	if *runJob != "" {
		if err := sched.RunNow(ctx, *runJob); err != nil {
			appLog.Error("job run failed", "job", *runJob, "err", err)
			return 1
		}
		return 0
	}
	if cfg.BackgroundTasks {
		if err := sched.Start(); err != nil {
			appLog.Error("scheduler start failed", "err", err)
			return 1
		}
	} else {
		appLog.Info("background tasks disabled")
	}

	covOpts := []coverage.Option{
		coverage.WithRefresher(ref),
		coverage.WithScheduler(sched),
		coverage.WithLogger(appLog),
	}
	if cfg.External.Enabled {
		en := enrich.New(enrich.Config{
			OpenWeatherAPIKey: cfg.External.OpenWeatherAPIKey,
			NewsAPIKey:        cfg.External.NewsAPIKey,
			CacheTTL:          cfg.External.CacheTTL,
		}, httpclient.NewOutbound(cfg.External.Timeout), appLog)
		covOpts = append(covOpts, coverage.WithEnricher(en))
	}
	svc := coverage.New(coverage.Config{
		DefaultThreshold: cfg.NDVIThreshold,
		NameAttribute:    cfg.NameAttribute,
	}, pool, cacheSvc, st, covOpts...)

	invCfg := kafka.FromEnv()
	inv := kafka.New(invCfg, cacheSvc, kafka.Options{
		Logger:    appLog,
		Register:  provider.Registerer(),
		Refresher: ref,
	})
	if err := inv.Start(ctx); err != nil {
		appLog.Error("invalidation runner start failed", "err", err)
		return 1
	}

	checks := []health.Check{
		{Name: "database", Ping: st.Ping},
		{Name: "cache", Ping: cacheSvc.Ping},
	}
	if invCfg.Active() {
		checks = append(checks, health.ConsumerCheck("invalidation", inv))
	}

	deps := server.Deps{
		Coverage:  svc,
		Inspector: an,
		Checks:    checks,
		Log:       appLog,
	}
	if cfg.MetricsEnabled {
		if cfg.MetricsAddr == "" {
			deps.Metrics = provider.Handler()
		} else {
			serveMetrics(ctx, cfg, provider.Handler())
		}
	}

	runErr := server.Run(ctx, cfg, appLog, server.NewRouter(cfg, deps))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	inv.Stop()
	if err := sched.Stop(shutdownCtx); err != nil {
		appLog.Warn("scheduler stop", "err", err)
	}

	if runErr != nil {
		appLog.Error("server exited with error", "err", runErr)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openCacheStore(ctx context.Context, cfg config.Config, st *store.Store) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		c, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.CacheOpTimeout),
			redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
		if err != nil {
			return nil, err
		}
		return redisstore.NewStore(c, redisstore.WithRetention(cfg.CacheExpiredRetention)), nil
	case "sqlite", "":
		return sqlstore.New(st.DB()), nil
	default:
		return nil, errors.New("unknown cache backend " + cfg.CacheBackend)
	}
}

// ttlPolicy layers the configured TTLs over the built-in defaults, so
// calculation types missing from CACHE_TTL_OVERRIDES keep their own TTL.
func ttlPolicy(cfg config.Config, log *slog.Logger) cache.TTLPolicy {
	for k := range cfg.CacheTTLOvr {
		if _, err := model.ParseCalculationType(k); err != nil {
			log.Warn("ignoring cache ttl override", "type", k, "err", err)
		}
	}
	return cache.PolicyFromConfig(cfg.CacheTTLDefault, cfg.CacheTTLOvr)
}

func newScheduler(cfg config.Config, log *slog.Logger, ref *refresh.Refresher, c *cache.Service) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.SchedulerTZ)
	if err != nil {
		return nil, err
	}
	s := scheduler.New(scheduler.Config{Location: loc, JobTimeout: 6 * time.Hour}, log)
	if err := s.Add(scheduler.Job{
		ID:       scheduler.JobWeeklyRefresh,
		Name:     "Weekly green coverage update",
		Schedule: cfg.RefreshSchedule,
		Run: func(ctx context.Context) error {
			_, err := ref.RunScheduled(ctx)
			return err
		},
	}); err != nil {
		return nil, err
	}
	if err := s.Add(scheduler.Job{
		ID:       scheduler.JobCacheCleanup,
		Name:     "Daily cache cleanup",
		Schedule: cfg.CleanupSchedule,
		Run: func(ctx context.Context) error {
			n, err := c.CleanupExpired(ctx, "")
			if err == nil {
				log.Info("expired cache entries removed", "removed", n)
			}
			return err
		},
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func serveMetrics(ctx context.Context, cfg config.Config, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, h)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("metrics: listening on %s%s", cfg.MetricsAddr, cfg.MetricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
