package syncrunner

import (
	"context"
	"log/slog"
	"time"

	"qrsafe/internal/services/resilience"
)

// Flusher replays queued sync operations.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

type Config struct {
	Interval  time.Duration // idle poll interval
	BaseDelay time.Duration // first retry delay after a failed flush
	MaxDelay  time.Duration
}

var DefaultConfig = Config{Interval: 15 * time.Second, BaseDelay: time.Second, MaxDelay: time.Minute}

// Run flushes on every tick until ctx is cancelled. After a failed flush
// it retries with exponential backoff instead of waiting for the next tick;
// a successful flush resets the attempt counter.
func Run(ctx context.Context, f Flusher, cfg Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := f.Flush(ctx)
		if ctx.Err() != nil {
			return
		}
		next := cfg.Interval
		if err != nil {
			attempt++
			next = resilience.Backoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
			logger.Warn("sync flush failed", "attempt", attempt, "retry_in", next, "error", err)
		} else {
			if n > 0 || attempt > 0 {
				logger.Info("sync flush", "replayed", n, "after_attempts", attempt)
			}
			attempt = 0
		}
		timer.Reset(next)
	}
}
