package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "quotad",
	Short: "quotad - usage quota enforcement for metered AI calls",
	Long: `Quotad gates calls to a metered, costly resource (AI generation) behind
per-account limits that are checked and consumed exactly once per call,
correctly under concurrency.

It provides:
  - Atomic check-and-reserve quota decisions (never read-then-write)
  - Daily or lifetime metering periods with implicit rollover
  - Per-account overrides, tier defaults, and a global default limit
  - A release path so failed operations do not cost quota
  - An audited administrative surface for overrides and resets`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
