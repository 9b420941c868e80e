package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	AOI      AOIConfig      `yaml:"aoi" mapstructure:"aoi"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Grid     GridConfig     `yaml:"grid" mapstructure:"grid"`
	Filter   FilterConfig   `yaml:"filter" mapstructure:"filter"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Run      RunConfig      `yaml:"run" mapstructure:"run"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Entropy  EntropyConfig  `yaml:"entropy" mapstructure:"entropy"`
	Zonal    ZonalConfig    `yaml:"zonal" mapstructure:"zonal"`
}

// AOIConfig locates the area of interest.
type AOIConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CatalogConfig configures the STAC scene catalog client.
type CatalogConfig struct {
	URL           string      `yaml:"url" mapstructure:"url"`
	Collection    string      `yaml:"collection" mapstructure:"collection"`
	Assets        []string    `yaml:"assets" mapstructure:"assets"`
	PageLimit     int         `yaml:"page_limit" mapstructure:"page_limit"`
	MaxPages      int         `yaml:"max_pages" mapstructure:"max_pages"`
	RatePerSec    float64     `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs   int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLHours int         `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	RequesterPays bool        `yaml:"requester_pays" mapstructure:"requester_pays"`
	Retry         RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig bounds catalog retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoff     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier     float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// GridConfig defines the common output grid.
type GridConfig struct {
	CRS        string  `yaml:"crs" mapstructure:"crs"`
	Resolution float64 `yaml:"resolution" mapstructure:"resolution"`
}

// FilterConfig configures speckle filtering.
type FilterConfig struct {
	Window int `yaml:"window" mapstructure:"window"`
}

// ClassifyConfig configures water classification. An unset threshold is
// computed with Otsu; any set value, 0 included, is used as given.
type ClassifyConfig struct {
	Mode        string   `yaml:"mode" mapstructure:"mode"`
	VVThreshold *float64 `yaml:"vv_threshold" mapstructure:"vv_threshold"`
	VHThreshold *float64 `yaml:"vh_threshold" mapstructure:"vh_threshold"`
	Bins        int      `yaml:"bins" mapstructure:"bins"`
}

// RunConfig holds per-run defaults that CLI flags may override.
type RunConfig struct {
	Start           string `yaml:"start" mapstructure:"start"`
	End             string `yaml:"end" mapstructure:"end"`
	Output          string `yaml:"output" mapstructure:"output"`
	Workers         int    `yaml:"workers" mapstructure:"workers"`
	Normalize       bool   `yaml:"normalize" mapstructure:"normalize"`
	Quicklook       bool   `yaml:"quicklook" mapstructure:"quicklook"`
	WriteValidCount bool   `yaml:"write_valid_count" mapstructure:"write_valid_count"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EntropyConfig configures the temporal entropy batch.
type EntropyConfig struct {
	InputDir  string   `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir string   `yaml:"output_dir" mapstructure:"output_dir"`
	Indices   []string `yaml:"indices" mapstructure:"indices"`
	Bins      int      `yaml:"bins" mapstructure:"bins"`
	Min       float64  `yaml:"min" mapstructure:"min"`
	Max       float64  `yaml:"max" mapstructure:"max"`
	Workers   int      `yaml:"workers" mapstructure:"workers"`
}

// ZonalConfig configures segment statistics extraction.
type ZonalConfig struct {
	SegmentIDField string  `yaml:"segment_id_field" mapstructure:"segment_id_field"`
	ClassField     string  `yaml:"class_field" mapstructure:"class_field"`
	NoData         float64 `yaml:"nodata" mapstructure:"nodata"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
}

// Validate checks the configuration required by a command.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "run":
		if c.AOI.Path == "" {
			missing = append(missing, "aoi.path")
		}
		if c.Run.Start == "" {
			missing = append(missing, "run.start")
		}
		if c.Run.End == "" {
			missing = append(missing, "run.end")
		}
		if c.Run.Output == "" {
			missing = append(missing, "run.output")
		}
	case "search":
		if c.AOI.Path == "" {
			missing = append(missing, "aoi.path")
		}
	case "entropy":
		if c.Entropy.InputDir == "" {
			missing = append(missing, "entropy.input_dir")
		}
		if c.Entropy.OutputDir == "" {
			missing = append(missing, "entropy.output_dir")
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}

	if c.Grid.Resolution <= 0 {
		return eris.Errorf("config: grid.resolution must be positive, got %g", c.Grid.Resolution)
	}
	if c.Filter.Window < 1 || c.Filter.Window%2 == 0 {
		return eris.Errorf("config: filter.window must be a positive odd integer, got %d", c.Filter.Window)
	}
	if c.Classify.Mode != "per_scene" && c.Classify.Mode != "global" {
		return eris.Errorf("config: classify.mode must be per_scene or global, got %q", c.Classify.Mode)
	}
	if c.Run.Workers < 1 {
		return eris.Errorf("config: run.workers must be at least 1, got %d", c.Run.Workers)
	}
	switch c.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INUNDATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("aoi.path", "")
	v.SetDefault("catalog.url", "https://earth-search.aws.element84.com/v1")
	v.SetDefault("catalog.collection", "sentinel-1-grd")
	v.SetDefault("catalog.assets", []string{"vv", "vh"})
	v.SetDefault("catalog.page_limit", 100)
	v.SetDefault("catalog.max_pages", 50)
	v.SetDefault("catalog.rate_per_sec", 5.0)
	v.SetDefault("catalog.timeout_secs", 30)
	v.SetDefault("catalog.cache_ttl_hours", 24)
	v.SetDefault("catalog.requester_pays", false)
	v.SetDefault("catalog.retry.max_attempts", 3)
	v.SetDefault("catalog.retry.initial_backoff_ms", 500)
	v.SetDefault("catalog.retry.max_backoff_ms", 10000)
	v.SetDefault("catalog.retry.multiplier", 2.0)
	v.SetDefault("catalog.retry.jitter_fraction", 0.25)
	v.SetDefault("grid.crs", "EPSG:32632")
	v.SetDefault("grid.resolution", 10.0)
	v.SetDefault("filter.window", 7)
	v.SetDefault("classify.mode", "per_scene")
	// No default: an absent threshold must stay nil.
	_ = v.BindEnv("classify.vv_threshold")
	_ = v.BindEnv("classify.vh_threshold")
	v.SetDefault("classify.bins", 256)
	v.SetDefault("run.start", "")
	v.SetDefault("run.end", "")
	v.SetDefault("run.output", "")
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.normalize", false)
	v.SetDefault("run.quicklook", false)
	v.SetDefault("run.write_valid_count", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "inundation.db")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("entropy.input_dir", "")
	v.SetDefault("entropy.output_dir", "")
	v.SetDefault("entropy.indices", []string{"NDVI", "NDWI", "BSI"})
	v.SetDefault("entropy.bins", 20)
	v.SetDefault("entropy.min", -1.0)
	v.SetDefault("entropy.max", 1.0)
	v.SetDefault("entropy.workers", 4)
	v.SetDefault("zonal.segment_id_field", "segment_id")
	v.SetDefault("zonal.class_field", "class")
	v.SetDefault("zonal.nodata", -9999.0)
	v.SetDefault("zonal.batch_size", 500)
	v.SetDefault("zonal.workers", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
