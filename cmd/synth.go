package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/roadtraffic/internal/fintraffic"
	"github.com/chrisdamba/roadtraffic/internal/synthetic"
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate synthetic raw reports into the parquet cache",
	Long: `synth writes generated reports in the cache layout of fetch, so the other
commands can run offline on them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.Source.CacheDir
		if dir == "" {
			return fmt.Errorf("synth needs a cache directory (--cache-dir or source.cache_dir)")
		}
		gen, err := synthetic.New(synthetic.OptionsFromConfig(cfg.Synthetic))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}

		total := 0
		for _, day := range cfg.DayRefs() {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			records := gen.Day(cfg.StationID, day)
			path := filepath.Join(dir, fintraffic.CacheFileName(cfg.StationID, day.Year, day.Day))
			if err := fintraffic.WriteCache(path, records); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			total += len(records)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "TMS %d (%s): %d synthetic records over %d days written to %s\n",
			cfg.StationID, gen.StationName(cfg.StationID), total, len(cfg.DayRefs()), dir)
		return nil
	},
}
