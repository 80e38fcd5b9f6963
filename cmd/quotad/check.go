package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/telemetry/logging"
)

var checkFlags struct {
	account  string
	resource string
	release  bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a one-shot quota check against the configured store",
	Long: `Run a single quota check for an account, printing the decision as JSON.

Note: an allowed check reserves one unit. Pass --release to return the unit
afterwards, making the probe side-effect free.

Examples:
  quotad check --account acct-123
  quotad check --account acct-123 --resource ai.summary --release`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.account, "account", "a", "", "account id (required)")
	checkCmd.Flags().StringVarP(&checkFlags.resource, "resource", "r", "ai.generation", "resource key")
	checkCmd.Flags().BoolVar(&checkFlags.release, "release", false, "release the reservation after a successful check")
	checkCmd.MarkFlagRequired("account")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.Setup(logging.Config{Level: level, Format: "text", Writer: os.Stderr})
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, logger, quota.NopMetrics())
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	decision, err := eng.guard.TryConsume(ctx, checkFlags.account, checkFlags.resource)
	if err != nil {
		return err
	}

	if decision.Allowed && checkFlags.release {
		eng.guard.Release(ctx, checkFlags.account, decision.PeriodKey)
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !decision.Allowed {
		os.Exit(1)
	}
	return nil
}
