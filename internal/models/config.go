package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type SourceConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required"`
	CacheDir          string        `mapstructure:"cache_dir"`
	SaveCache         bool          `mapstructure:"save_cache"`
	SortTotalTime     bool          `mapstructure:"sort_total_time"`
	RetryAfter        time.Duration `mapstructure:"retry_after"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Concurrency       int           `mapstructure:"concurrency" validate:"min=1,max=16"`
	ShowProgress      bool          `mapstructure:"show_progress"`
}

type CleanConfig struct {
	Direction  int   `mapstructure:"direction" validate:"oneof=0 1 2"`
	Lanes      []int `mapstructure:"lanes" validate:"dive,min=1"`
	HourFrom   int   `mapstructure:"hour_from" validate:"min=0,max=23"`
	HourTo     int   `mapstructure:"hour_to" validate:"min=0,max=23,gtefield=HourFrom"`
	KeepFaulty bool  `mapstructure:"keep_faulty"`
}

type AggregationConfig struct {
	Period        time.Duration `mapstructure:"period"`
	ByLane        bool          `mapstructure:"by_lane"`
	RollingWindow time.Duration `mapstructure:"rolling_window"`
	RollingGap    time.Duration `mapstructure:"rolling_gap"`
	GridDensity   int           `mapstructure:"grid_density" validate:"min=1"`
	GridFlow      int           `mapstructure:"grid_flow" validate:"min=1"`
}

type EstimationConfig struct {
	ModelType       string    `mapstructure:"model_type" validate:"oneof=mean quantile"`
	Quantiles       []float64 `mapstructure:"quantiles" validate:"dive,gt=0,lt=1"`
	Penalty         string    `mapstructure:"penalty" validate:"omitempty,oneof=l1 l2 l3"`
	Eta             float64   `mapstructure:"eta" validate:"gte=0"`
	Solver          string    `mapstructure:"solver" validate:"oneof=auto simplex admm"`
	UseBagged       bool      `mapstructure:"use_bagged"`
	MaxObservations int       `mapstructure:"max_observations" validate:"min=1"`
	FreeFlowSpeed   float64   `mapstructure:"free_flow_speed" validate:"gte=0"`

	// Context names a contextual variable of the aggregates, fitted with
	// unbagged data only.
	Context string `mapstructure:"context" validate:"omitempty,oneof=truck_share hour"`
}

type CloudStorageConfig struct {
	Provider   string `mapstructure:"provider"`
	Region     string `mapstructure:"region"`
	BucketName string `mapstructure:"bucket_name"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// SQLitePath is used when the output destination is sqlite.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ConnString renders a libpq style connection string for pgx.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type OutputConfig struct {
	Destination     string             `mapstructure:"destination" validate:"oneof=console csv json parquet kafka postgres sqlite"`
	Path            string             `mapstructure:"path"`
	Folder          string             `mapstructure:"folder"`
	Storage         string             `mapstructure:"storage" validate:"oneof=local cloud"`
	KafkaBrokerList string             `mapstructure:"kafka_broker_list"`
	CloudStorage    CloudStorageConfig `mapstructure:"cloud_storage"`
	Database        DatabaseConfig     `mapstructure:"database"`
}

type PlotConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format" validate:"oneof=png svg html"`
}

type SyntheticConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Seed        int64   `mapstructure:"seed"`
	Lanes       int     `mapstructure:"lanes" validate:"min=1,max=6"`
	DailyVolume int     `mapstructure:"daily_volume" validate:"min=0"`
	FaultyRate  float64 `mapstructure:"faulty_rate" validate:"gte=0,lte=1"`
}

type Config struct {
	StationID   int               `mapstructure:"station_id" validate:"min=1"`
	Days        []string          `mapstructure:"days" validate:"min=1"`
	Source      SourceConfig      `mapstructure:"source"`
	Clean       CleanConfig       `mapstructure:"clean"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Estimation  EstimationConfig  `mapstructure:"estimation"`
	Output      OutputConfig      `mapstructure:"output"`
	Plot        PlotConfig        `mapstructure:"plot"`
	Synthetic   SyntheticConfig   `mapstructure:"synthetic"`
}

// SetDefaults registers the default value of every config key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", URLFintraffic)
	v.SetDefault("source.sort_total_time", true)
	v.SetDefault("source.retry_after", DefaultRetryAfter)
	v.SetDefault("source.request_timeout", 60*time.Second)
	v.SetDefault("source.requests_per_second", 2.0)
	v.SetDefault("source.concurrency", 2)
	v.SetDefault("source.show_progress", true)

	v.SetDefault("clean.hour_from", 0)
	v.SetDefault("clean.hour_to", 23)

	v.SetDefault("aggregation.period", DefaultAggregationPeriod)
	v.SetDefault("aggregation.rolling_window", 5*time.Minute)
	v.SetDefault("aggregation.rolling_gap", 15*time.Second)
	v.SetDefault("aggregation.grid_density", DefaultNumBagsDensity)
	v.SetDefault("aggregation.grid_flow", DefaultNumBagsFlow)

	v.SetDefault("estimation.model_type", ModelQuantile)
	v.SetDefault("estimation.quantiles", DefaultQuantiles)
	v.SetDefault("estimation.solver", "auto")
	v.SetDefault("estimation.use_bagged", true)
	v.SetDefault("estimation.max_observations", DefaultMaxObservations)

	v.SetDefault("output.destination", "console")
	v.SetDefault("output.storage", "local")
	v.SetDefault("output.path", "output")
	v.SetDefault("output.kafka_broker_list", "localhost:9092")
	v.SetDefault("output.database.port", "5432")
	v.SetDefault("output.database.sslmode", "disable")
	v.SetDefault("output.database.sqlite_path", "roadtraffic.db")

	v.SetDefault("plot.dir", "plots")
	v.SetDefault("plot.format", "png")

	v.SetDefault("synthetic.seed", 42)
	v.SetDefault("synthetic.lanes", 2)
	v.SetDefault("synthetic.daily_volume", 20000)
	v.SetDefault("synthetic.faulty_rate", 0.01)
}

// LoadConfig initializes and reads the configuration using Viper. A missing
// default config file is not an error; defaults and flags apply.
func LoadConfig(cfgFile string) (*Config, error) {
	return LoadConfigFrom(viper.GetViper(), cfgFile)
}

func LoadConfigFrom(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("examples")
		v.SetConfigName("roadtraffic")
	}

	v.SetEnvPrefix("ROADTRAFFIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

var validate = validator.New()

// Validate checks field ranges and the cross-field rules the tags cannot express.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Aggregation.Period < time.Second {
		return fmt.Errorf("invalid configuration: aggregation period %s must be at least 1s", cfg.Aggregation.Period)
	}
	if cfg.Aggregation.RollingWindow < time.Second || cfg.Aggregation.RollingGap < time.Second {
		return fmt.Errorf("invalid configuration: rolling window and gap must be at least 1s")
	}
	if cfg.Estimation.Penalty != PenaltyNone && cfg.Estimation.Eta <= 0 {
		return fmt.Errorf("invalid configuration: eta must be set when penalty %q is selected", cfg.Estimation.Penalty)
	}
	if cfg.Estimation.Context != "" && cfg.Estimation.UseBagged {
		return fmt.Errorf("invalid configuration: context %q needs use_bagged=false", cfg.Estimation.Context)
	}
	if _, err := ParseDayRefs(cfg.Days); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DayRefs returns the parsed report days.
func (cfg *Config) DayRefs() []DayRef {
	days, _ := ParseDayRefs(cfg.Days)
	return days
}
