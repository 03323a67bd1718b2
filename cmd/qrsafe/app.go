package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"

	"qrsafe/internal/adapters/memory"
	"qrsafe/internal/adapters/remote"
	"qrsafe/internal/adapters/sqlite"
	"qrsafe/internal/config"
	"qrsafe/internal/ports"
	"qrsafe/internal/services/assessment"
	"qrsafe/internal/services/community"
	histsvc "qrsafe/internal/services/history"
	"qrsafe/internal/services/reputation"
	"qrsafe/internal/services/resilience"
	scansvc "qrsafe/internal/services/scanner"
	"qrsafe/internal/services/syncer"
)

// app is the service graph behind every subcommand.
type app struct {
	cfg     config.Config
	db      *sql.DB
	history *histsvc.Service
	scanner *scansvc.Service
	sync    *syncer.Syncer // nil without a remote authority
	logger  *slog.Logger
}

type options struct {
	dbPath  string
	remote  string
	verbose bool
}

func newApp(ctx context.Context, o options) (*app, error) {
	cfg, err := config.Load()
	if err != nil && !errors.Is(err, config.ErrMissingAPIKey) {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.HistoryDB = o.dbPath
	}
	if o.remote != "" {
		cfg.RemoteURL = o.remote
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	db, err := sqlite.Open(cfg.HistoryDB)
	if err != nil {
		return nil, err
	}
	combiner := assessment.Combiner{PreferWeighted: cfg.PreferWeighted}
	history := histsvc.New(sqlite.NewHistory(db),
		histsvc.WithCapacity(cfg.HistoryCapacity),
		histsvc.WithCombiner(combiner),
		histsvc.WithLogger(logger),
	)
	if err := history.Load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: db, history: history, logger: logger}

	var voter ports.Voter
	if cfg.RemoteURL != "" {
		a.sync = syncer.New(remote.New(cfg.RemoteURL, nil), sqlite.NewOutbox(db), syncer.WithLogger(logger))
		voter = a.sync
	} else {
		// Offline: votes only shape this device's history.
		voter = community.NewStore(memory.NewRatings(), community.WithLogger(logger))
	}

	repOpts := []reputation.Option{
		reputation.WithRateLimit(cfg.ReputationPerMinute, cfg.ReputationPerMinute),
		reputation.WithSubmitOnMiss(cfg.SubmitOnMiss),
		reputation.WithLogger(logger),
	}
	if cfg.ReputationBaseURL != "" {
		repOpts = append(repOpts, reputation.WithBaseURL(cfg.ReputationBaseURL))
	}
	guard := resilience.NewGuard(reputation.New(cfg.ReputationAPIKey, repOpts...),
		resilience.WithCache(resilience.NewMemoryCache(), cfg.CacheTTL),
		resilience.WithBreaker(resilience.NewBreaker(
			resilience.WithThreshold(cfg.BreakerThreshold),
			resilience.WithTimeout(cfg.BreakerTimeout),
		)),
		resilience.WithLogger(logger),
	)
	a.scanner = scansvc.New(guard, voter, history,
		scansvc.WithCombiner(combiner),
		scansvc.WithLogger(logger),
	)
	return a, nil
}

func (a *app) Close() error { return a.db.Close() }
