package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "collector-cli",
	Short: "Phoenix-area property data collection pipeline",
	Long:  "Collects property records from the county assessor API and MLS listings, extracts structured fields via selectors or a local LLM, validates, and persists.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Logging); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
