package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/estimate"
	"github.com/chrisdamba/roadtraffic/internal/output"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate fundamental diagram frontiers and write the models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		tms, err := prepare(ctx, cfg, cfg.DayRefs())
		if err != nil {
			return err
		}
		dataSet, results, err := estimateModels(ctx, cfg, tms)
		if err != nil {
			return err
		}

		err = withDestination(ctx, cfg, func(exp *output.Exporter) error {
			for _, m := range results.Models() {
				if _, err := exp.Model(tms.ID, dataSet, m); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), tms.ID, dataSet, results)
		return nil
	},
}

func printModels(w io.Writer, stationID int, dataSet string, results *estimate.Results) {
	fmt.Fprintf(w, "TMS %d, %s data:\n", stationID, dataSet)
	for _, m := range results.Models() {
		fmt.Fprintf(w, "  %-28s %-10s objective=%.4f segments=%d hyperplanes=%d (%s, %s)\n",
			m.Key, m.Status, m.Objective, m.Segments(), m.Hyperplanes(), m.Method, m.Elapsed.Round(time.Millisecond))
		if m.Z == nil {
			continue
		}
		tt, err := results.TTestContext(m.Key, 0.05)
		if err != nil {
			fmt.Fprintf(w, "    context %s: %v\n", m.ContextName, err)
			continue
		}
		fmt.Fprintf(w, "    context %s: lambda=%.4f se=%.4f t=%.3f p=%.4f\n",
			m.ContextName, tt.Lambda, tt.StdErr, tt.T, tt.PValue)
	}
}
