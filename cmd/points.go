package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/dataset"
	"github.com/sells-group/tract-rollup/internal/tiger"
)

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Convert a CSV or XLSX table with longitude/latitude columns to a point shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("points"); err != nil {
			return err
		}
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		lon, _ := cmd.Flags().GetString("lon")
		lat, _ := cmd.Flags().GetString("lat")
		if input == "" || output == "" {
			return eris.New("points: --input and --output are required")
		}

		t, err := dataset.ReadFile(cmd.Context(), input)
		if err != nil {
			return eris.Wrap(err, "points: read input")
		}

		written, skipped, err := tiger.WritePoints(output, t, lon, lat)
		if err != nil {
			return err
		}
		zap.L().Info("points written",
			zap.String("output", output),
			zap.Int("written", written),
			zap.Int("skipped", skipped),
		)
		fmt.Printf("Wrote %d points to %s (%d rows skipped)\n", written, output, skipped)
		return nil
	},
}

func init() {
	pointsCmd.Flags().String("input", "", "input CSV or XLSX")
	pointsCmd.Flags().String("output", "", "output .shp path")
	pointsCmd.Flags().String("lon", "longitude", "longitude column")
	pointsCmd.Flags().String("lat", "latitude", "latitude column")
	rootCmd.AddCommand(pointsCmd)
}
