package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/plots"
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Draw the fundamental diagram with its frontiers and the daily timeline",
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

		var frontiers []plots.Series
		for _, m := range results.Models() {
			frontiers = append(frontiers, plots.FrontierOf(m))
		}
		if tri, err := tms.Derive(cfg.Estimation.FreeFlowSpeed); err == nil {
			frontiers = append(frontiers, plots.TriangularOf(&tri))
		} else {
			log.Printf("Warning: drawing without a triangular diagram: %v", err)
		}

		x, y := tms.Agg.Density(), tms.Agg.Flow()
		if dataSet == "bagged" {
			x, y = tms.Bag.Density(), tms.Bag.Flow()
		}
		title := fmt.Sprintf("TMS %d (%s)", tms.ID, dataSet)
		base := filepath.Join(cfg.Plot.Dir, fmt.Sprintf("tms_%d", tms.ID))
		if err := os.MkdirAll(cfg.Plot.Dir, os.ModePerm); err != nil {
			return err
		}

		fdPath := base + "_fd." + cfg.Plot.Format
		if cfg.Plot.Format == "html" {
			f, err := os.Create(fdPath)
			if err != nil {
				return err
			}
			if err := plots.FundamentalHTML(f, title, x, y, frontiers); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		} else if err := plots.FundamentalDiagram(fdPath, title, x, y, frontiers); err != nil {
			return err
		}

		timelineFormat := cfg.Plot.Format
		if timelineFormat == "html" {
			timelineFormat = "png"
		}
		timelinePath := base + "_timeline." + timelineFormat
		if err := plots.Timeline(timelinePath, fmt.Sprintf("TMS %d", tms.ID), tms.Agg.Records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plots written to %s and %s\n", fdPath, timelinePath)
		return nil
	},
}
