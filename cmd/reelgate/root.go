package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "reelgate",
	Short: "ReelGate - admission control and generation lifecycle for BrightReel",
	Long: `ReelGate fronts every costly generative-AI call made by the BrightReel
platform with an admission pipeline, and tracks long-running generation
jobs through a durable state machine.

It provides:
  - Per-user, per-category token-bucket rate limiting
  - Monthly spend ceilings backed by a durable ledger (fail-closed)
  - Content-addressed memoization of deterministic AI responses
  - Submission, terminal reporting, and explicit retry of async jobs`,
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
