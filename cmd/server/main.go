package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/analysis"
	"github.com/mohammed-shakir/eo-timeseries/internal/cache/redisstore"
	"github.com/mohammed-shakir/eo-timeseries/internal/catalog"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/config"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/health"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/httpclient"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/server"
	"github.com/mohammed-shakir/eo-timeseries/internal/hotness/expdecay"
	"github.com/mohammed-shakir/eo-timeseries/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/eo-timeseries/internal/logger"
	h3mapper "github.com/mohammed-shakir/eo-timeseries/internal/mapper/h3"
	"github.com/mohammed-shakir/eo-timeseries/internal/metrics"
	"github.com/mohammed-shakir/eo-timeseries/internal/query"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
	"github.com/mohammed-shakir/eo-timeseries/internal/seriescache"
	"github.com/mohammed-shakir/eo-timeseries/internal/tiles"
	"github.com/mohammed-shakir/eo-timeseries/internal/timeseries"
	invkafka "github.com/mohammed-shakir/eo-timeseries/pkg/invalidation/kafka"
)

// set with -ldflags
var (
	Version   = "dev"
	Revision  = ""
	Branch    = ""
	BuildDate = ""
)

// hot areas whose score decays below this are dropped from the tracker
const pruneFloor = 0.01

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "eo-timeseries",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, Branch: Branch, BuildDate: BuildDate},
	})
	observability.Init(p.Registerer(), true)

	appLog.Info("starting eo-timeseries",
		"addr", cfg.Addr,
		"version", Version,
		"remote", cfg.RemoteURL,
		"cache", cfg.Cache.Enabled,
		"invalidation", cfg.Invalidation.Enabled)

	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		appLog.Error("failed to load catalog", "path", cfg.CatalogPath, "err", err)
		return 1
	}
	appLog.Info("catalog loaded", "products", cat.Len())

	rc, err := remote.New(appLog, httpclient.NewOutbound(cfg.RemoteTimeout), cfg.RemoteURL, cfg.RemoteAPIKey)
	if err != nil {
		appLog.Error("failed to initialize remote client", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := []health.Check{{Name: "remote", Fn: rc.Ping}}

	var fetcher timeseries.Fetcher = rc
	var sc *seriescache.Cache
	if cfg.Cache.Enabled {
		tracker := expdecay.New(cfg.Cache.HotHalfLife)
		hot := metricswrap.New(tracker, metricswrap.Options{
			Threshold: cfg.Cache.HotThresh,
			LogSample: 0.05,
			Logger:    appLog,
		})
		opts := seriescache.Options{
			TTL:          cfg.Cache.TTL,
			HotTTL:       cfg.Cache.TTLHot,
			LocalSize:    cfg.Cache.LocalSize,
			OpTimeout:    cfg.Cache.OpTimeout,
			Hot:          hot,
			Areas:        h3mapper.New(),
			HotThreshold: cfg.Cache.HotThresh,
			HotRes:       cfg.Cache.HotRes,
			Logger:       appLog,
		}

		store, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			// the in-process tier still serves this replica
			appLog.Warn("redis unavailable; series cache is local only", "addr", cfg.Cache.RedisAddr, "err", err)
			sc, err = seriescache.New(rc, nil, opts)
		} else {
			defer func() { _ = store.Close() }()
			checks = append(checks, health.Check{Name: "redis", Fn: store.Ping})
			sc, err = seriescache.New(rc, store, opts)
		}
		if err != nil {
			appLog.Error("failed to initialize series cache", "err", err)
			return 1
		}
		fetcher = sc
		go pruneLoop(ctx, hot, cfg.Cache.HotHalfLife)
	}

	assembler := timeseries.NewAssembler(timeseries.NewExtractor(fetcher, appLog), cfg.ExtractWorkers, appLog)
	svc := analysis.New(
		cat,
		query.NewBuilder(nil),
		assembler,
		tiles.NewPublisher(rc, cfg.TileURLTemplate, appLog),
		analysis.Defaults{Scale: cfg.DefaultScale, Reducer: cfg.DefaultReducer},
		appLog,
	)

	deps := server.Deps{Analyzer: svc, Metrics: p, Checks: checks}

	runner := invkafka.New(invkafka.FromConfig(cfg.Invalidation), sc, invkafka.Options{
		Logger:   appLog,
		Register: p.Registerer(),
	})
	if runner.Active() {
		if sc == nil {
			appLog.Error("invalidation requires CACHE_ENABLED=true")
			return 1
		}
		if err := runner.Start(ctx); err != nil {
			appLog.Error("failed to start invalidation runner", "err", err)
			return 1
		}
		defer runner.Stop()
		deps.Readiness = runner
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func pruneLoop(ctx context.Context, hot *metricswrap.WithMetrics, halfLife time.Duration) {
	every := halfLife
	if every <= 0 || every > 5*time.Minute {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hot.Prune(pruneFloor)
		}
	}
}
