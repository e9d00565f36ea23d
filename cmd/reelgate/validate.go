package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"brightreel-ai/reelgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the service.

Exits non-zero if the file cannot be read, parsed, or fails validation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid (%d rate categories, budget $%.2f/month, storage %s)\n",
			cfgFile, len(cfg.Admission.RateCategories), cfg.Admission.MonthlyBudgetUSD, cfg.Storage.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
