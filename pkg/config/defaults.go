package config

import (
	"time"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "quotad.db"
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.SQLite.CheckpointInterval == 0 {
		cfg.Store.SQLite.CheckpointInterval = 5 * time.Minute
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = "quotad:"
	}

	// Quota policy defaults. The production policy (daily vs lifetime,
	// which count) is a per-deployment decision; these are starting
	// values, not the rule.
	if cfg.Quota.Granularity == "" {
		cfg.Quota.Granularity = string(quota.GranularityDaily)
	}
	if (cfg.Quota.DefaultLimit == quota.Limit{}) {
		cfg.Quota.DefaultLimit = quota.Limited(15)
	}
	if cfg.Quota.Tiers == nil {
		cfg.Quota.Tiers = map[string]quota.Limit{
			"premium": quota.Unlimited(),
		}
	}

	// Directory defaults
	if cfg.Directory.DefaultTier == "" {
		cfg.Directory.DefaultTier = "free"
	}

	// Retention defaults
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = "noteflow"
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = "quotad"
	}
}
