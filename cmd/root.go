package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tract-rollup",
	Short: "ACS tract indicators rolled up to neighborhood zones",
	Long: `Fetches American Community Survey tract indicators from the Census API,
joins them to tract boundaries, and aggregates them to neighborhood zones
with dissolved outlines. Outputs CSV, GeoPackage, and optionally Shapefile,
XLSX and PostGIS tables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
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
