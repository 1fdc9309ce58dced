package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/tract-rollup/internal/emit"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch ACS tract indicators and write per-vintage, long and wide CSVs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyFetchFlags(cmd); err != nil {
			return err
		}
		env, err := initPipeline(ctx, "fetch")
		if err != nil {
			return err
		}
		defer env.Close()

		m := emit.NewManifest("fetch")
		_, wide, err := env.Pipeline.Fetch(ctx, m)
		env.finish(ctx, m, err)
		if err != nil {
			return err
		}

		printOutputs(m, m.Outputs)
		fmt.Printf("Wide table: %s (%d records)\n", wide, m.Counts["records"])
		return nil
	},
}

// applyFetchFlags overrides the census section with explicitly set flags.
func applyFetchFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("vintages") {
		v, err := flags.GetIntSlice("vintages")
		if err != nil {
			return err
		}
		cfg.Census.Vintages = v
	}
	if flags.Changed("counties") {
		s, _ := flags.GetString("counties")
		cfg.Census.Counties = splitAndTrim(s)
	}
	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		cfg.Census.Concurrency = n
	}
	return nil
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().IntSlice("vintages", nil, "ACS 5-year vintages (default from config)")
	cmd.Flags().String("counties", "", "comma-separated county FIPS codes (default: the five boroughs)")
	cmd.Flags().Int("concurrency", 1, "parallel fetch units; 1 fetches sequentially with a pause between vintages")
}

func init() {
	addFetchFlags(fetchCmd)
	rootCmd.AddCommand(fetchCmd)
}
