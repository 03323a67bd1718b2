// Package badgercache is a ports.ReputationCache on BadgerDB. Entries carry
// a native TTL so expired verdicts disappear without a sweeper.
package badgercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"qrsafe/internal/domain"
)

const keyPrefix = "rep:"

type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration
}

type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct{ logger *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...any) { l.logger.Error(fmt.Sprintf(format, args...)) }

func (l badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }

func (l badgerLogger) Infof(format string, args ...any) { l.logger.Debug(fmt.Sprintf(format, args...)) }

func (l badgerLogger) Debugf(format string, args ...any) { l.logger.Debug(fmt.Sprintf(format, args...)) }

func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgercache: path is required for a persistent cache")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgercache: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithSyncWrites(false)
	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgercache: open: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Get returns the cached verdict for key. Misses and decode failures both
// report false.
func (c *Cache) Get(_ context.Context, key string) (domain.ReputationVerdict, bool) {
	var v domain.ReputationVerdict
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &v) })
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("badgercache: get", "key", key, "error", err)
		}
		return domain.ReputationVerdict{}, false
	}
	return v, true
}

// Put stores v for ttl. A non-positive ttl stores nothing.
func (c *Cache) Put(_ context.Context, key string, v domain.ReputationVerdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("badgercache: encode", "key", key, "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+key), b).WithTTL(ttl))
	})
	if err != nil {
		c.logger.Warn("badgercache: put", "key", key, "error", err)
	}
}

// RunGC runs value log garbage collection every interval until ctx is done.
func (c *Cache) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (c *Cache) Close() error { return c.db.Close() }
