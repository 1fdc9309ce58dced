package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/tract-rollup/internal/emit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, join and aggregate in one pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyFetchFlags(cmd); err != nil {
			return err
		}
		applyAggregateFlags(cmd)
		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		m := emit.NewManifest("run")
		res, err := env.Pipeline.Run(ctx, m)
		env.finish(ctx, m, err)
		if err != nil {
			return err
		}

		printOutputs(m, m.Outputs)
		fmt.Printf("%d records, %d zones\n", m.Counts["records"], len(res.Zones))
		return nil
	},
}

func init() {
	addFetchFlags(runCmd)
	addAggregateFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
