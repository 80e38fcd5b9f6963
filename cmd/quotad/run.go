package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/quota/retention"
	"github.com/noteflow-ai/quotad/pkg/server"
	"github.com/noteflow-ai/quotad/pkg/telemetry/logging"
	"github.com/noteflow-ai/quotad/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the quota server",
	Long: `Start the quota server with the specified configuration.

The server exposes the quota check and release endpoints for the application
layer, the administrative endpoints for operators, and /metrics when metrics
are enabled.

Examples:
  # Start with default config
  quotad run

  # Start with custom config
  quotad run --config /etc/quotad/config.yaml

  # Override listen address
  quotad run --listen 0.0.0.0:8080

  # Validate config without starting the server
  quotad run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if runFlags.dryRun {
		fmt.Println("configuration is valid")
		return nil
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	var quotaMetrics quota.Metrics = quota.NopMetrics()
	var collector *metrics.QuotaMetrics
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.New(metrics.Config{
			Enabled:   true,
			Namespace: cfg.Telemetry.Metrics.Namespace,
			Subsystem: cfg.Telemetry.Metrics.Subsystem,
		}, nil)
		quotaMetrics = collector
	}

	eng, err := buildEngine(cfg, logger, quotaMetrics)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()

	// Retention pruning
	pruner := retention.NewPruner(eng.store, eng.clock, retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Days:     cfg.Retention.Days,
		Schedule: cfg.Retention.Schedule,
	}, logger)
	scheduler := retention.NewScheduler(pruner)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Hot reload of the quota policy section
	if cfg.Quota.Watch {
		watcher, err := config.NewWatcher(cfgFile, logger, func(reloaded *config.Config) {
			eng.resolver.SetPolicy(reloaded.Quota.Policy())
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	var metricsHandler http.Handler
	if collector != nil {
		metricsHandler = collector.Handler()
	}
	return server.NewServer(&cfg.Server, eng.guard, eng.admin, metricsHandler, logger).Start(ctx)
}
