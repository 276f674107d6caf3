package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "roadtraffic",
	Short: "Estimates fundamental diagrams from Finnish road traffic data",
	Long: `roadtraffic downloads raw traffic measurement station (TMS) reports from
Digitraffic, aggregates them into flow, speed and density observations and
estimates fundamental diagram frontiers with quantile or mean nonparametric
regression under concavity constraints.`,
	SilenceUsage: true,
}

// flagKeys maps persistent flags to their configuration keys.
var flagKeys = map[string]string{
	"station":   "station_id",
	"days":      "days",
	"direction": "clean.direction",
	"output":    "output.destination",
	"synthetic": "synthetic.enabled",
	"cache-dir": "source.cache_dir",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./roadtraffic.yaml)")
	flags.Int("station", 0, "TMS station id")
	flags.StringSlice("days", nil, "report days as YYYY-DDD or YYYY-MM-DD")
	flags.Int("direction", 0, "direction to keep, 0 for both")
	flags.String("output", "console", "output destination: console, csv, json, parquet, kafka, postgres or sqlite")
	flags.Bool("synthetic", false, "use generated reports instead of Digitraffic")
	flags.String("cache-dir", "", "directory of cached parquet reports")

	for flag, key := range flagKeys {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	rootCmd.AddCommand(fetchCmd, aggregateCmd, estimateCmd, deriveCmd, plotCmd, synthCmd)
}

func loadConfig() (*models.Config, error) {
	cfg, err := models.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
