package config

import (
	"time"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// Config is the root configuration for quotad.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Quota     QuotaConfig     `yaml:"quota"`
	Directory DirectoryConfig `yaml:"directory"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// StoreConfig selects and configures the counter store backend.
type StoreConfig struct {
	// Backend is one of "sqlite", "redis", "memory".
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path               string        `yaml:"path"`
	BusyTimeout        time.Duration `yaml:"busy_timeout"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	// CounterTTL is the expiry applied to counter keys on creation so
	// expired periods age out of Redis. Zero disables expiry (required
	// for lifetime granularity).
	CounterTTL time.Duration `yaml:"counter_ttl"`
}

// QuotaConfig is the metering policy: how periods are bounded and which
// limits apply. This is deployment data, not code; the enforcement
// algorithm does not change when the business rule does.
type QuotaConfig struct {
	// Granularity is "daily" or "lifetime".
	Granularity string `yaml:"granularity"`

	// DefaultLimit applies to accounts whose tier has no entry in Tiers.
	DefaultLimit quota.Limit `yaml:"default_limit"`

	// Tiers maps tier names to their default limit. Values are counts or
	// the string "unlimited".
	Tiers map[string]quota.Limit `yaml:"tiers"`

	// Watch hot-reloads this section when the config file changes.
	Watch bool `yaml:"watch"`
}

// DirectoryConfig configures the static account -> tier directory that
// stands in for the external auth collaborator.
type DirectoryConfig struct {
	// Accounts maps account ids to tier names.
	Accounts map[string]string `yaml:"accounts"`

	// DefaultTier is assigned to accounts absent from Accounts when
	// Strict is false.
	DefaultTier string `yaml:"default_tier"`

	// Strict rejects accounts absent from Accounts as invalid.
	Strict bool `yaml:"strict"`
}

// RetentionConfig configures pruning of expired counter rows.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig configures logging and metrics.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// Policy converts the quota section into the resolver's Policy value.
func (c *QuotaConfig) Policy() quota.Policy {
	return quota.Policy{
		Tiers:   c.Tiers,
		Default: c.DefaultLimit,
	}
}
