package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/fintraffic"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download raw reports into the parquet cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Source.CacheDir == "" {
			return fmt.Errorf("fetch needs a cache directory (--cache-dir or source.cache_dir)")
		}
		src := cfg.Source
		src.SaveCache = true
		records, err := fintraffic.NewLoader(src).ReadManyReports(cmd.Context(), cfg.StationID, cfg.DayRefs())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "TMS %d: %d raw records over %d days cached in %s\n",
			cfg.StationID, len(records), len(cfg.DayRefs()), src.CacheDir)
		return nil
	},
}
