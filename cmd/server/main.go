package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"qrsafe/internal/adapters/badgercache"
	httpadapter "qrsafe/internal/adapters/http"
	"qrsafe/internal/adapters/memory"
	pg "qrsafe/internal/adapters/postgres"
	"qrsafe/internal/adapters/remote"
	"qrsafe/internal/adapters/sqlite"
	"qrsafe/internal/config"
	"qrsafe/internal/observability"
	"qrsafe/internal/ports"
	"qrsafe/internal/services/assessment"
	"qrsafe/internal/services/community"
	"qrsafe/internal/services/feed"
	histsvc "qrsafe/internal/services/history"
	"qrsafe/internal/services/reputation"
	"qrsafe/internal/services/resilience"
	scansvc "qrsafe/internal/services/scanner"
	"qrsafe/internal/services/syncer"
	"qrsafe/internal/workers/syncrunner"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		logger.Warn("reputation lookups disabled", "error", err)
	case err != nil:
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	hub := feed.NewHub(64, metrics)

	var ratings ports.RatingRepository
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		ratings = db
	} else {
		logger.Warn("DATABASE_URL not set, community ratings are kept in memory")
		ratings = memory.NewRatings()
	}
	store := community.NewStore(ratings,
		community.WithPublisher(hub),
		community.WithMetrics(metrics),
		community.WithLogger(logger),
	)

	local, err := sqlite.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer local.Close()

	combiner := assessment.Combiner{PreferWeighted: cfg.PreferWeighted}
	history := histsvc.New(sqlite.NewHistory(local),
		histsvc.WithCapacity(cfg.HistoryCapacity),
		histsvc.WithCombiner(combiner),
		histsvc.WithLogger(logger),
	)
	if err := history.Load(ctx); err != nil {
		return err
	}
	if cfg.SeedDemo {
		seeded, err := history.SeedDemo(ctx)
		if err != nil {
			return err
		}
		logger.Info("demo history seeded", "entries", len(seeded))
	}
	updates, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	go history.Follow(ctx, updates)

	// Scans vote through the local store unless this instance replicates a
	// remote authority.
	var voter ports.Voter = store
	if cfg.RemoteURL != "" {
		sync := syncer.New(remote.New(cfg.RemoteURL, nil), sqlite.NewOutbox(local),
			syncer.WithPublisher(hub),
			syncer.WithMetrics(metrics),
			syncer.WithLogger(logger),
		)
		voter = sync
		runCfg := syncrunner.DefaultConfig
		runCfg.Interval = cfg.SyncInterval
		go syncrunner.Run(ctx, sync, runCfg, logger)
		logger.Info("replicating votes", "remote", cfg.RemoteURL, "interval", cfg.SyncInterval)
	}

	var cache ports.ReputationCache
	if cfg.CacheDir != "" {
		bc, err := badgercache.Open(badgercache.Config{Path: cfg.CacheDir, Logger: logger})
		if err != nil {
			return err
		}
		defer bc.Close()
		go bc.RunGC(ctx, 10*time.Minute)
		cache = bc
	} else {
		cache = resilience.NewMemoryCache()
	}

	repOpts := []reputation.Option{
		reputation.WithRateLimit(cfg.ReputationPerMinute, cfg.ReputationPerMinute),
		reputation.WithSubmitOnMiss(cfg.SubmitOnMiss),
		reputation.WithLogger(logger),
	}
	if cfg.ReputationBaseURL != "" {
		repOpts = append(repOpts, reputation.WithBaseURL(cfg.ReputationBaseURL))
	}
	breaker := resilience.NewBreaker(
		resilience.WithThreshold(cfg.BreakerThreshold),
		resilience.WithTimeout(cfg.BreakerTimeout),
		resilience.WithStateChange(func(from, to resilience.BreakerState) {
			logger.Info("reputation breaker", "from", from.String(), "to", to.String())
		}),
	)
	guard := resilience.NewGuard(reputation.New(cfg.ReputationAPIKey, repOpts...),
		resilience.WithCache(cache, cfg.CacheTTL),
		resilience.WithBreaker(breaker),
		resilience.WithMetrics(metrics),
		resilience.WithLogger(logger),
	)

	scanner := scansvc.New(guard, voter, history,
		scansvc.WithCombiner(combiner),
		scansvc.WithMetrics(metrics),
		scansvc.WithLogger(logger),
	)

	srv := httpadapter.New(httpadapter.Deps{
		Votes:    store,
		Scanner:  scanner,
		History:  history,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger,
	})
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
