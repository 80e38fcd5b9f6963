package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noteflow-ai/quotad/pkg/config"
	"github.com/noteflow-ai/quotad/pkg/quota"
	"github.com/noteflow-ai/quotad/pkg/telemetry/logging"
)

var limitsFlags struct {
	actor     string
	periodKey string
	auditN    int
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Administer per-account limits and usage counters",
	Long: `Administer per-account limit overrides and usage counters.

These operations bypass normal metering and are recorded in the audit trail
with the acting operator (--actor).`,
}

var limitsSetCmd = &cobra.Command{
	Use:   "set <account> <limit>",
	Short: "Set a per-account limit override",
	Long: `Set a per-account limit override. The limit is a non-negative count or
the word "unlimited". The override takes effect on the next quota check.

Examples:
  quotad limits set acct-123 5
  quotad limits set acct-123 unlimited --actor alice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := quota.ParseLimit(args[1])
		if err != nil {
			return err
		}
		return withAdmin(func(ctx context.Context, eng *engine) error {
			if err := eng.admin.SetLimit(ctx, limitsFlags.actor, args[0], limit); err != nil {
				return err
			}
			fmt.Printf("limit for %s set to %s\n", args[0], limit)
			return nil
		})
	},
}

var limitsClearCmd = &cobra.Command{
	Use:   "clear <account>",
	Short: "Remove a per-account limit override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, eng *engine) error {
			if err := eng.admin.ClearLimit(ctx, limitsFlags.actor, args[0]); err != nil {
				return err
			}
			fmt.Printf("override for %s cleared\n", args[0])
			return nil
		})
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset <account>",
	Short: "Reset an account's usage counter to zero",
	Long: `Reset an account's usage counter to zero for the current period, or for
an explicit period with --period.

Examples:
  quotad limits reset acct-123
  quotad limits reset acct-123 --period 2026-08-30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, eng *engine) error {
			if err := eng.admin.ResetUsage(ctx, limitsFlags.actor, args[0], limitsFlags.periodKey); err != nil {
				return err
			}
			fmt.Printf("usage for %s reset\n", args[0])
			return nil
		})
	},
}

var limitsGetCmd = &cobra.Command{
	Use:   "get <account>",
	Short: "Show an account's limit and current usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(ctx context.Context, eng *engine) error {
			usage, err := eng.admin.GetUsage(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(usage, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

var limitsAuditCmd = &cobra.Command{
	Use:   "audit [account]",
	Short: "List recent administrative operations, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := ""
		if len(args) == 1 {
			account = args[0]
		}
		return withAdmin(func(ctx context.Context, eng *engine) error {
			records, err := eng.admin.Audit(ctx, account, limitsFlags.auditN)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTOR\tACTION\tACCOUNT\tDETAIL")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.Actor, rec.Action, rec.AccountID, rec.Detail)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsSetCmd, limitsClearCmd, limitsResetCmd, limitsGetCmd, limitsAuditCmd)

	limitsCmd.PersistentFlags().StringVar(&limitsFlags.actor, "actor", "cli", "operator name for the audit trail")
	limitsResetCmd.Flags().StringVar(&limitsFlags.periodKey, "period", "", "period key to reset (default: current period)")
	limitsAuditCmd.Flags().IntVarP(&limitsFlags.auditN, "limit", "n", 50, "maximum records to list")
}

// withAdmin loads configuration, wires the engine against the configured
// store, runs fn, and tears down.
func withAdmin(fn func(context.Context, *engine) error) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "text", Writer: os.Stderr})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	eng, err := buildEngine(cfg, logger, quota.NopMetrics())
	if err != nil {
		return err
	}
	defer eng.Close()

	return fn(context.Background(), eng)
}
