package solsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default timings of the synchronization layer.
const (
	DefaultListTTL         = 5 * time.Second
	DefaultSnapshotTTL     = 60 * time.Second
	DefaultListTimeout     = 10 * time.Second
	DefaultStatsTimeout    = 8 * time.Second
	DefaultPollInterval    = 15 * time.Second
	DefaultWatchdogTimeout = 25 * time.Second
	DefaultCacheSize       = 512
	DefaultPerPage         = 50
)

// Config holds configuration for a Client. It is usually loaded from the
// environment with ParseEnv.
type Config struct {
	APIBase  string `env:"SOLSYNC_API_BASE" envDefault:"http://127.0.0.1:8000/api"`
	Token    string `env:"SOLSYNC_TOKEN"`
	Email    string `env:"SOLSYNC_EMAIL"`
	Password string `env:"SOLSYNC_PASSWORD"`

	ListTTL         time.Duration `env:"SOLSYNC_LIST_TTL" envDefault:"5s"`
	SnapshotTTL     time.Duration `env:"SOLSYNC_SNAPSHOT_TTL" envDefault:"60s"`
	ListTimeout     time.Duration `env:"SOLSYNC_LIST_TIMEOUT" envDefault:"10s"`
	StatsTimeout    time.Duration `env:"SOLSYNC_STATS_TIMEOUT" envDefault:"8s"`
	PollInterval    time.Duration `env:"SOLSYNC_POLL_INTERVAL" envDefault:"15s"`
	WatchdogTimeout time.Duration `env:"SOLSYNC_WATCHDOG_TIMEOUT" envDefault:"25s"`
	CacheSize       int           `env:"SOLSYNC_CACHE_SIZE" envDefault:"512"`

	// SnapshotDriver selects the snapshot store: memory, redis or sqlite.
	SnapshotDriver string `env:"SOLSYNC_SNAPSHOT_DRIVER" envDefault:"memory"`
	RedisAddr      string `env:"SOLSYNC_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"SOLSYNC_REDIS_PASSWORD"`
	RedisDB        int    `env:"SOLSYNC_REDIS_DB" envDefault:"0"`
	SQLitePath     string `env:"SOLSYNC_SQLITE_PATH" envDefault:"solsync-snapshots.db"`

	LogLevel string `env:"SOLSYNC_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads a Config from environment variables and validates it.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	c.APIBase = strings.TrimRight(strings.TrimSpace(c.APIBase), "/")
	if c.APIBase == "" {
		return errors.New("solsync: API base URL must be set")
	}
	setDuration(&c.ListTTL, DefaultListTTL)
	setDuration(&c.SnapshotTTL, DefaultSnapshotTTL)
	setDuration(&c.ListTimeout, DefaultListTimeout)
	setDuration(&c.StatsTimeout, DefaultStatsTimeout)
	setDuration(&c.PollInterval, DefaultPollInterval)
	setDuration(&c.WatchdogTimeout, DefaultWatchdogTimeout)
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	switch c.SnapshotDriver {
	case "":
		c.SnapshotDriver = "memory"
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("solsync: unknown snapshot driver %q", c.SnapshotDriver)
	}
	return nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
