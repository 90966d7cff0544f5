// Package config defines service configuration structures and loading hooks.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects json lines or the human console writer.
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=json console"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// DataDir is the root the default sources live under.
	DataDir string `koanf:"data_dir"`

	// StoreDir holds one sqlite file per project.
	StoreDir string `koanf:"store_dir" validate:"required"`

	// GlobalDB is the path of the cross-provider rollup store.
	GlobalDB string `koanf:"global_db" validate:"required"`

	// Sources lists the provider roots scanned for projects.
	Sources []Source `koanf:"sources" validate:"dive"`

	Loader    LoaderConfig    `koanf:"loader"`
	Store     StoreConfig     `koanf:"store"`
	Differ    DifferConfig    `koanf:"differ"`
	History   HistoryConfig   `koanf:"history"`
	Normalize NormalizeConfig `koanf:"normalize"`
	Rollup    RollupConfig    `koanf:"rollup"`
	API       APIConfig       `koanf:"api"`
}

// Source is one provider root. Every subdirectory of Root is a project.
type Source struct {
	Provider string `koanf:"provider" validate:"required,oneof=cookie vooi wallchain kaito"`
	Root     string `koanf:"root" validate:"required"`
	// Prefix is prepended to directory names to form project names.
	Prefix string `koanf:"project_prefix"`
	// Timeframes restricts ingestion to the listed timeframes when set.
	Timeframes []string `koanf:"timeframes"`
}

// LoaderConfig tunes the per-project ingestion loop.
type LoaderConfig struct {
	Interval       time.Duration `koanf:"interval" validate:"gt=0"`
	Jitter         float64       `koanf:"jitter" validate:"gte=0,lt=1"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gt=0"`
	BatchFiles     int           `koanf:"batch_files" validate:"gt=0"`
	RescanInterval time.Duration `koanf:"rescan_interval" validate:"gt=0"`
}

// StoreConfig tunes the sqlite stores.
type StoreConfig struct {
	BusyTimeout     time.Duration `koanf:"busy_timeout" validate:"gt=0"`
	MaxExtraColumns int           `koanf:"max_extra_columns" validate:"gte=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// DifferConfig sets the rank-change plausibility bound.
type DifferConfig struct {
	// Thresholds maps provider names to their bound.
	Thresholds       map[string]int `koanf:"thresholds" validate:"dive,gt=0"`
	DefaultThreshold int            `koanf:"default_threshold" validate:"gt=0"`
	SentinelRank     int            `koanf:"sentinel_rank" validate:"gt=0"`
}

// HistoryConfig bounds history responses.
type HistoryConfig struct {
	MaxPoints int `koanf:"max_points" validate:"gt=1"`
}

// NormalizeConfig lists nested keys collapsed to counts.
type NormalizeConfig struct {
	CollapseFields []string `koanf:"collapse_fields"`
}

// RollupConfig drives the global rollup trigger.
type RollupConfig struct {
	Interval        time.Duration `koanf:"interval" validate:"gt=0"`
	Cooldown        time.Duration `koanf:"cooldown" validate:"gte=0"`
	ProviderOrder   []string      `koanf:"provider_order" validate:"min=1,dive,oneof=cookie wallchain kaito"`
	ReadConcurrency int           `koanf:"read_concurrency" validate:"gt=0"`
}

// APIConfig configures the query API.
type APIConfig struct {
	MaxLimit int `koanf:"max_limit" validate:"gt=0"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit   int           `koanf:"rate_limit" validate:"gte=0"`
	CORSOrigins []string      `koanf:"cors_origins"`
	CacheTTL    time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Addr:      ":9080",
		DataDir:   "./data",
		StoreDir:  "./data/db",
		GlobalDB:  "./data/global_rankings.db",
		Sources: []Source{
			{Provider: "cookie", Root: "./data/cookie"},
			{Provider: "wallchain", Root: "./data/wallchain", Prefix: "wallchain-"},
			{Provider: "kaito", Root: "./data/kaito", Prefix: "kaito-"},
		},
		Loader: LoaderConfig{
			Interval:       30 * time.Second,
			Jitter:         0.2,
			MaxBackoff:     5 * time.Minute,
			BatchFiles:     50,
			RescanInterval: time.Minute,
		},
		Store: StoreConfig{
			BusyTimeout:     30 * time.Second,
			MaxExtraColumns: 64,
			BreakerFailures: 3,
			BreakerTimeout:  time.Minute,
		},
		Differ: DifferConfig{
			Thresholds: map[string]int{
				"cookie":    149,
				"wallchain": 500,
				"kaito":     500,
			},
			DefaultThreshold: 500,
			SentinelRank:     9999,
		},
		History: HistoryConfig{MaxPoints: 500},
		Normalize: NormalizeConfig{
			CollapseFields: []string{"smartFollowersList", "followersList", "topTweets", "tweets", "mentions"},
		},
		Rollup: RollupConfig{
			Interval:        time.Hour,
			Cooldown:        5 * time.Minute,
			ProviderOrder:   []string{"cookie", "kaito", "wallchain"},
			ReadConcurrency: 4,
		},
		API: APIConfig{
			MaxLimit:    500,
			RateLimit:   120,
			CORSOrigins: []string{"*"},
			CacheTTL:    30 * time.Second,
		},
	}
}
