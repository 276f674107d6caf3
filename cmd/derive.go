package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

var compareDays []string

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a triangular diagram and compare it with the fitted frontiers",
	Long: `derive fits a triangular fundamental diagram to the aggregates and, when
--compare-days is given, scores it and every estimated frontier against the
aggregates of that other period.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		tms, err := prepare(ctx, cfg, cfg.DayRefs())
		if err != nil {
			return err
		}
		tri, err := tms.Derive(cfg.Estimation.FreeFlowSpeed)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "TMS %d triangular diagram: vf=%.1f km/h kc=%.1f veh/km capacity=%.0f veh/h w=%.2f km/h kj=%.1f veh/km rmse=%.1f mae=%.1f\n",
			tms.ID, tri.FreeFlowSpeed, tri.CriticalDensity, tri.Capacity, tri.WaveSpeed, tri.JamDensity, tri.RMSE, tri.MAE)

		if len(compareDays) == 0 {
			return nil
		}
		days, err := models.ParseDayRefs(compareDays)
		if err != nil {
			return err
		}
		other, err := prepare(ctx, cfg, days)
		if err != nil {
			return fmt.Errorf("comparison period: %w", err)
		}
		_, results, err := estimateModels(ctx, cfg, tms)
		if err != nil {
			return err
		}
		for _, m := range results.Models() {
			ev, err := tms.Evaluate(other, m.Key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %-28s own: triangular rmse=%.1f mae=%.1f frontier rmse=%.1f mae=%.1f | other: triangular rmse=%.1f mae=%.1f frontier rmse=%.1f mae=%.1f\n",
				ev.Key,
				ev.Own.TriangularRMSE, ev.Own.TriangularMAE, ev.Own.FrontierRMSE, ev.Own.FrontierMAE,
				ev.Other.TriangularRMSE, ev.Other.TriangularMAE, ev.Other.FrontierRMSE, ev.Other.FrontierMAE)
		}
		return nil
	},
}

func init() {
	deriveCmd.Flags().StringSliceVar(&compareDays, "compare-days", nil, "days of the comparison period")
}
