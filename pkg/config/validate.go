package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// Validate checks the configuration for errors. All problems are reported
// together so operators fix a file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddress == "" {
		errs = append(errs, errors.New("server.listen_address cannot be empty"))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, errors.New("server.read_timeout cannot be negative"))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server.write_timeout cannot be negative"))
	}

	// Store
	switch cfg.Store.Backend {
	case "sqlite":
		if cfg.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path cannot be empty"))
		}
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr cannot be empty"))
		}
	case "memory":
		// No settings.
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of sqlite, redis, memory (got %q)", cfg.Store.Backend))
	}

	// Quota policy
	if _, err := quota.ParseGranularity(cfg.Quota.Granularity); err != nil {
		errs = append(errs, fmt.Errorf("quota.granularity: %w", err))
	}
	if err := cfg.Quota.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quota: %w", err))
	}

	// Retention
	if cfg.Retention.Days < 0 {
		errs = append(errs, errors.New("retention.days cannot be negative"))
	}
	if cfg.Retention.Enabled && cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("retention.schedule: %w", err))
		}
	}

	// Telemetry
	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("telemetry.logging.level must be one of debug, info, warn, error (got %q)", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("telemetry.logging.format must be json or text (got %q)", cfg.Telemetry.Logging.Format))
	}

	return errors.Join(errs...)
}
