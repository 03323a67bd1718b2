package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is a warning: without a key every reputation lookup
// degrades to MissingCredential.
var ErrMissingAPIKey = errString("REPUTATION_API_KEY not set")

type errString string

func (e errString) Error() string { return string(e) }

type Config struct {
	Env        string `yaml:"env"`
	ListenAddr string `yaml:"listen_addr"`
	// DatabaseURL selects the Postgres rating store; empty keeps ratings in memory.
	DatabaseURL string `yaml:"database_url"`
	// HistoryDB is the SQLite file holding scan history and the sync outbox.
	HistoryDB       string `yaml:"history_db"`
	HistoryCapacity int    `yaml:"history_capacity"`
	SeedDemo        bool   `yaml:"seed_demo"`

	ReputationAPIKey    string `yaml:"reputation_api_key"`
	ReputationBaseURL   string `yaml:"reputation_base_url"`
	ReputationPerMinute int    `yaml:"reputation_per_minute"`
	SubmitOnMiss        bool   `yaml:"submit_on_miss"`

	// CacheDir holds the Badger reputation cache; empty uses an in-process map.
	CacheDir         string        `yaml:"cache_dir"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`

	// RemoteURL makes this instance a replica syncing votes with another
	// qrsafe server instead of owning the ratings.
	RemoteURL    string        `yaml:"remote_url"`
	SyncInterval time.Duration `yaml:"sync_interval"`

	PreferWeighted bool `yaml:"prefer_weighted"`
}

func Defaults() Config {
	return Config{
		Env:                 "development",
		ListenAddr:          ":8080",
		HistoryDB:           "data/qrsafe.db",
		HistoryCapacity:     100,
		ReputationPerMinute: 4,
		SubmitOnMiss:        true,
		CacheTTL:            5 * time.Minute,
		BreakerThreshold:    5,
		BreakerTimeout:      60 * time.Second,
		SyncInterval:        15 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A missing API key is
// reported as ErrMissingAPIKey alongside a usable Config.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.ListenAddr = getenv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.HistoryDB = getenv("HISTORY_DB", cfg.HistoryDB)
	cfg.HistoryCapacity = getenvInt("HISTORY_CAPACITY", cfg.HistoryCapacity)
	cfg.SeedDemo = getenvBool("SEED_DEMO", cfg.SeedDemo)
	cfg.ReputationAPIKey = getenv("REPUTATION_API_KEY", cfg.ReputationAPIKey)
	cfg.ReputationBaseURL = getenv("REPUTATION_BASE_URL", cfg.ReputationBaseURL)
	cfg.ReputationPerMinute = getenvInt("REPUTATION_PER_MINUTE", cfg.ReputationPerMinute)
	cfg.SubmitOnMiss = getenvBool("REPUTATION_SUBMIT_ON_MISS", cfg.SubmitOnMiss)
	cfg.CacheDir = getenv("CACHE_DIR", cfg.CacheDir)
	cfg.CacheTTL = getenvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.BreakerThreshold = getenvInt("BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerTimeout = getenvDuration("BREAKER_TIMEOUT", cfg.BreakerTimeout)
	cfg.RemoteURL = getenv("REMOTE_URL", cfg.RemoteURL)
	cfg.SyncInterval = getenvDuration("SYNC_INTERVAL", cfg.SyncInterval)
	cfg.PreferWeighted = getenvBool("PREFER_WEIGHTED", cfg.PreferWeighted)

	if cfg.ReputationAPIKey == "" {
		// Not fatal: lookups degrade. Callers decide how loud to be.
		return cfg, ErrMissingAPIKey
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c Config) Production() bool { return c.Env == "production" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(v); err == nil {
			return out
		}
	}
	return def
}
