// Package config loads bistro settings from an optional file, BISTRO_*
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/generator"
	"github.com/TFMV/bistro/query"
	"github.com/spf13/viper"
)

const envPrefix = "BISTRO"

type DatabaseConfig struct {
	Driver string `json:"driver" mapstructure:"driver"`
	Path   string `json:"path" mapstructure:"path"`
}

type GCSConfig struct {
	CredentialsFile string `json:"credentials-file" mapstructure:"credentials-file"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
}

// Config is the full set of scalar settings.
type Config struct {
	Rows       int            `json:"rows" mapstructure:"rows"`
	Seed       int64          `json:"seed" mapstructure:"seed"`
	Source     string         `json:"source" mapstructure:"source"`
	Database   DatabaseConfig `json:"database" mapstructure:"database"`
	Universe   string         `json:"universe" mapstructure:"universe"`
	ExplorersK int            `json:"explorers-k" mapstructure:"explorers-k"`
	TopFoodsK  int            `json:"top-foods-k" mapstructure:"top-foods-k"`
	Snapshot   string         `json:"snapshot" mapstructure:"snapshot"`
	HTTPAddr   string         `json:"http-addr" mapstructure:"http-addr"`
	FlightAddr string         `json:"flight-addr" mapstructure:"flight-addr"`
	LogLevel   string         `json:"log-level" mapstructure:"log-level"`
	GCS        GCSConfig      `json:"gcs" mapstructure:"gcs"`
}

var defaults = map[string]any{
	"rows":                 generator.DefaultConfig().Rows,
	"seed":                 0,
	"source":               "data/data.csv",
	"database.driver":      string(db.DriverDuckDB),
	"database.path":        "restaurant_data.duckdb",
	"universe":             generator.Universe,
	"explorers-k":          query.DefaultExplorersK,
	"top-foods-k":          query.DefaultTopFoodsK,
	"snapshot":             "restaurant_data.arrow",
	"http-addr":            ":8080",
	"flight-addr":          ":8815",
	"log-level":            "info",
	"gcs.credentials-file": "",
	"gcs.endpoint":         "",
}

// InitConfig reads configuration from path (skipped when empty) and the
// environment. Environment variables take precedence over the file; a key
// such as database.path maps to BISTRO_DATABASE_PATH.
func InitConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Rows < 0 {
		return fmt.Errorf("rows must not be negative, got %d", c.Rows)
	}
	switch db.Driver(c.Database.Driver) {
	case db.DriverDuckDB, db.DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Universe == "" {
		return fmt.Errorf("universe must be set")
	}
	return nil
}

// DB converts the database section into a db.Config.
func (c *Config) DB() db.Config {
	cfg := db.DefaultConfig()
	cfg.Driver = db.Driver(c.Database.Driver)
	cfg.Path = c.Database.Path
	return cfg
}
