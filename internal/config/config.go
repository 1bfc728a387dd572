// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and the environment over the defaults.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// StoreDriver selects the rating store: memory, postgres, or sqlite.
	StoreDriver string `koanf:"store_driver" validate:"oneof=memory postgres sqlite"`

	// StoreDSN is the postgres connection string or the sqlite file path.
	StoreDSN string `koanf:"store_dsn" validate:"required_unless=StoreDriver memory"`

	// CatalogFile is a YAML item manifest ensured in the store at startup.
	CatalogFile string `koanf:"catalog_file"`

	// ImagesDir, when set, is served at /images/.
	ImagesDir string `koanf:"images_dir"`

	// BatchSize is the number of images shown per round.
	BatchSize int `koanf:"batch_size" validate:"min=2"`

	// RoundLimit is the number of decisions that finish a session.
	RoundLimit int `koanf:"round_limit" validate:"min=1"`

	// KFactor is the Elo step size for both rating tracks.
	KFactor float64 `koanf:"k_factor" validate:"gt=0"`

	// SyncMode is immediate or deferred.
	SyncMode string `koanf:"sync_mode" validate:"oneof=immediate deferred"`

	// WorkerCount sets the number of durable write workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`

	// QueueSize bounds each worker's queue.
	QueueSize int `koanf:"queue_size" validate:"min=1"`

	// DedupeSize bounds the remembered vote keys.
	DedupeSize int `koanf:"dedupe_size" validate:"min=1"`

	// SessionTTLMinutes is how long an idle session is kept.
	SessionTTLMinutes int `koanf:"session_ttl_minutes" validate:"min=1"`

	// CatalogTTLSeconds is how long the item list is cached.
	CatalogTTLSeconds int `koanf:"catalog_ttl_seconds" validate:"min=1"`

	// Retry policy around store calls.
	RetryMaxAttempts int `koanf:"retry_max_attempts" validate:"min=0"`
	RetryBaseDelayMS int `koanf:"retry_base_delay_ms" validate:"min=1"`
	RetryMaxDelayMS  int `koanf:"retry_max_delay_ms" validate:"gtefield=RetryBaseDelayMS"`

	// DrainTimeoutMS bounds the wait for in-flight writes at session end.
	DrainTimeoutMS int `koanf:"drain_timeout_ms" validate:"min=1"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit" validate:"min=1"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		StoreDriver:         "memory",
		BatchSize:           4,
		RoundLimit:          30,
		KFactor:             32,
		SyncMode:            "immediate",
		WorkerCount:         runtime.NumCPU(),
		QueueSize:           1024,
		DedupeSize:          100_000,
		SessionTTLMinutes:   120,
		CatalogTTLSeconds:   3600,
		RetryMaxAttempts:    3,
		RetryBaseDelayMS:    50,
		RetryMaxDelayMS:     2000,
		DrainTimeoutMS:      10_000,
		MaxLeaderboardLimit: 100,
	}
}

// SessionTTL returns SessionTTLMinutes as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// CatalogTTL returns CatalogTTLSeconds as a duration.
func (c *Config) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

// DrainTimeout returns DrainTimeoutMS as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// RetryBaseDelay returns RetryBaseDelayMS as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns RetryMaxDelayMS as a duration.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}
