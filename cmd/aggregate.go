package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/tract-rollup/internal/emit"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Join a wide indicator CSV to tract boundaries and roll it up to zones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyAggregateFlags(cmd)
		env, err := initPipeline(ctx, "aggregate")
		if err != nil {
			return err
		}
		defer env.Close()

		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			input = env.Pipeline.DefaultWidePath()
		}

		m := emit.NewManifest("aggregate")
		res, err := env.Pipeline.AggregateFile(ctx, input, m)
		env.finish(ctx, m, err)
		if err != nil {
			return err
		}

		printOutputs(m, m.Outputs)
		fmt.Printf("%d zones from %s\n", len(res.Zones), input)
		return nil
	},
}

// applyAggregateFlags overrides boundary and aggregate settings with
// explicitly set flags.
func applyAggregateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("boundary") {
		cfg.Boundary.Path, _ = flags.GetString("boundary")
	}
	if flags.Changed("zone-field") {
		cfg.Boundary.ZoneField, _ = flags.GetString("zone-field")
	}
	if flags.Changed("dissolver") {
		cfg.Aggregate.Dissolver, _ = flags.GetString("dissolver")
	}
	if flags.Changed("rules") {
		cfg.Aggregate.RulesFile, _ = flags.GetString("rules")
	}
}

func addAggregateFlags(cmd *cobra.Command) {
	cmd.Flags().String("boundary", "", "tract boundary shapefile (default from config)")
	cmd.Flags().String("zone-field", "", "boundary attribute naming the zone (default NTA2020)")
	cmd.Flags().String("dissolver", "", "dissolve backend: edge or postgis")
	cmd.Flags().String("rules", "", "YAML file with classification rules")
}

func init() {
	aggregateCmd.Flags().String("input", "", "wide indicator CSV or XLSX (default: the fetch output for the configured vintages)")
	addAggregateFlags(aggregateCmd)
	rootCmd.AddCommand(aggregateCmd)
}
