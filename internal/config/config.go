// Package config loads tract-rollup settings from config.yaml and the
// environment, validates them, and sets up the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Census    CensusConfig    `yaml:"census" mapstructure:"census"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Boundary  BoundaryConfig  `yaml:"boundary" mapstructure:"boundary"`
	Join      JoinConfig      `yaml:"join" mapstructure:"join"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CensusConfig configures the ACS fetch.
type CensusConfig struct {
	BaseURL           string           `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Dataset           string           `yaml:"dataset" mapstructure:"dataset" validate:"required"`
	APIKey            string           `yaml:"api_key" mapstructure:"api_key"`
	State             string           `yaml:"state" mapstructure:"state" validate:"required,len=2,numeric"`
	Counties          []string         `yaml:"counties" mapstructure:"counties" validate:"required,min=1,dive,len=3,numeric"`
	Vintages          []int            `yaml:"vintages" mapstructure:"vintages" validate:"required,min=1,dive,gte=2009,lte=2100"`
	TimeoutSecs       int              `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	UserAgent         string           `yaml:"user_agent" mapstructure:"user_agent"`
	PolitenessMS      int              `yaml:"politeness_ms" mapstructure:"politeness_ms" validate:"gte=0"`
	Concurrency       int              `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=32"`
	RequestsPerSecond float64          `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Variables         []VariableConfig `yaml:"variables" mapstructure:"variables" validate:"dive"`
	WideMetrics       []string         `yaml:"wide_metrics" mapstructure:"wide_metrics"`
}

// VariableConfig maps an API variable code to a column name.
type VariableConfig struct {
	Code string `yaml:"code" mapstructure:"code" validate:"required"`
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
}

// Timeout returns the HTTP timeout.
func (c CensusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Politeness returns the pause between vintages.
func (c CensusConfig) Politeness() time.Duration {
	return time.Duration(c.PolitenessMS) * time.Millisecond
}

// RetryConfig configures per-unit retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// BoundaryConfig locates the tract polygon layer.
type BoundaryConfig struct {
	Path         string   `yaml:"path" mapstructure:"path"`
	URL          string   `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	TigerYear    int      `yaml:"tiger_year" mapstructure:"tiger_year" validate:"omitempty,gte=2010"`
	CacheDir     string   `yaml:"cache_dir" mapstructure:"cache_dir"`
	IDCandidates []string `yaml:"id_candidates" mapstructure:"id_candidates" validate:"required,min=1"`
	ZoneField    string   `yaml:"zone_field" mapstructure:"zone_field" validate:"required"`
	SRID         int      `yaml:"srid" mapstructure:"srid" validate:"gte=0"`
}

// JoinConfig configures the indicator/boundary join.
type JoinConfig struct {
	MaxFailureRate float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate" validate:"gte=0,lte=1"`
}

// AggregateConfig configures the zone roll-up.
type AggregateConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
	Dissolver string `yaml:"dissolver" mapstructure:"dissolver" validate:"oneof=edge postgis"`
}

// OutputConfig configures where and what the emitter writes.
type OutputConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir" validate:"required"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix" validate:"required"`
	JoinedName  string `yaml:"joined_name" mapstructure:"joined_name" validate:"required"`
	ZonesName   string `yaml:"zones_name" mapstructure:"zones_name" validate:"required"`
	PreviewRows int    `yaml:"preview_rows" mapstructure:"preview_rows" validate:"gte=1"`
	PreviewXLSX bool   `yaml:"preview_xlsx" mapstructure:"preview_xlsx"`
	Shapefile   bool   `yaml:"shapefile" mapstructure:"shapefile"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// MetricsConfig configures the run metrics export and alerts.
type MetricsConfig struct {
	Textfile              string  `yaml:"textfile" mapstructure:"textfile"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FetchFailureThreshold float64 `yaml:"fetch_failure_threshold" mapstructure:"fetch_failure_threshold" validate:"gte=0,lte=1"`
}

// ServerConfig configures the GeoJSON API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	GPKG           string   `yaml:"gpkg" mapstructure:"gpkg"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ROLLUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("census.api_key", "ROLLUP_CENSUS_API_KEY", "CENSUS_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.state", "36")
	v.SetDefault("census.counties", []string{"005", "047", "061", "081", "085"})
	v.SetDefault("census.vintages", []int{2020, 2021, 2022, 2023})
	v.SetDefault("census.timeout_secs", 30)
	v.SetDefault("census.user_agent", "tract-rollup/1.0")
	v.SetDefault("census.politeness_ms", 600)
	v.SetDefault("census.concurrency", 1)
	v.SetDefault("census.requests_per_second", 5)
	v.SetDefault("retry.max_attempts", 6)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 1.6)
	v.SetDefault("retry.jitter", 0.0)
	v.SetDefault("boundary.cache_dir", "data/boundaries")
	v.SetDefault("boundary.id_candidates", []string{"GEOID", "GEOID10", "CT2020"})
	v.SetDefault("boundary.zone_field", "NTA2020")
	v.SetDefault("join.max_failure_rate", 0.02)
	v.SetDefault("aggregate.dissolver", "edge")
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.prefix", "acs_nyc_tract")
	v.SetDefault("output.joined_name", "nyct2020_with_acs")
	v.SetDefault("output.zones_name", "nyc_acs_nta_agg")
	v.SetDefault("output.preview_rows", 50)
	v.SetDefault("output.schema", "rollup")
	v.SetDefault("metrics.fetch_failure_threshold", 0.1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
