package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/output"
	"github.com/chrisdamba/roadtraffic/internal/process"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Clean, aggregate, bag and roll the raw data and write the results",
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
		rolling, err := tms.RawToRolling(process.RollingOptions{
			Window: cfg.Aggregation.RollingWindow,
			Gap:    cfg.Aggregation.RollingGap,
			ByLane: cfg.Aggregation.ByLane,
		})
		if err != nil {
			return err
		}

		err = withDestination(ctx, cfg, func(exp *output.Exporter) error {
			if err := exp.Aggregated(tms.Agg.Records); err != nil {
				return err
			}
			if err := exp.Bagged(tms.Bag.Records); err != nil {
				return err
			}
			return exp.Rolling(rolling.Key, rolling.Records)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "TMS %d: %d aggregates, %d bags, %d rolling windows (%s)\n",
			tms.ID, len(tms.Agg.Records), len(tms.Bag.Records), len(rolling.Records), rolling.Key)
		return nil
	},
}
