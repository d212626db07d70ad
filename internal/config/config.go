// Package config loads tradeguard settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hed1ad/tradeguard/pkg/detectors"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

// Prefix is prepended to every environment variable name.
const Prefix = "TRADEGUARD"

// Config is the complete application configuration.
type Config struct {
	Model  ModelConfig  `envconfig:"MODEL"`
	Risk   RiskConfig   `envconfig:"RISK"`
	Server ServerConfig `envconfig:"SERVER"`
	Store  StoreConfig  `envconfig:"STORE"`
	Log    LogConfig    `envconfig:"LOG"`
}

// ModelConfig holds isolation forest hyperparameters.
// Zero SubsampleSize or MaxDepth selects the data-dependent default.
type ModelConfig struct {
	NumTrees      int   `envconfig:"NUM_TREES" default:"100"`
	SubsampleSize int   `envconfig:"SUBSAMPLE_SIZE" default:"256"`
	MaxDepth      int   `envconfig:"MAX_DEPTH" default:"0"`
	Seed          int64 `envconfig:"SEED" default:"42"`
	MinDistinct   int   `envconfig:"MIN_DISTINCT" default:"2"`
}

// RiskConfig points at an optional YAML threshold table.
type RiskConfig struct {
	ThresholdsFile string `envconfig:"THRESHOLDS_FILE"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	RPS             float64       `envconfig:"RPS" default:"20"`
	Burst           int           `envconfig:"BURST" default:"40"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"4194304"`
	SampleDays      int           `envconfig:"SAMPLE_DAYS" default:"90"`
}

// StoreConfig selects the record store. An empty Driver disables it.
type StoreConfig struct {
	Driver string `envconfig:"DRIVER"`
	DSN    string `envconfig:"DSN"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads the given .env files (".env" when none are named; missing files
// are ignored), then TRADEGUARD_* variables, and validates the result.
// Variables already set in the environment win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.NumTrees < 1 {
		errs = append(errs, fmt.Errorf("model.num_trees must be positive, got %d", c.Model.NumTrees))
	}
	if c.Model.SubsampleSize < 0 {
		errs = append(errs, fmt.Errorf("model.subsample_size must not be negative, got %d", c.Model.SubsampleSize))
	}
	if c.Model.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("model.max_depth must not be negative, got %d", c.Model.MaxDepth))
	}
	if c.Model.MinDistinct < 1 {
		errs = append(errs, fmt.Errorf("model.min_distinct must be positive, got %d", c.Model.MinDistinct))
	}
	if c.Server.RPS < 0 {
		errs = append(errs, fmt.Errorf("server.rps must not be negative, got %g", c.Server.RPS))
	}
	if c.Server.RPS > 0 && c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.burst must be positive when rate limiting, got %d", c.Server.Burst))
	}
	if c.Server.SampleDays < 1 {
		errs = append(errs, fmt.Errorf("server.sample_days must be positive, got %d", c.Server.SampleDays))
	}
	if c.Store.Driver != "" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.driver is set"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Detector converts the model section to detector settings.
func (c *Config) Detector() detectors.Config {
	return detectors.Config{
		NumTrees:      c.Model.NumTrees,
		SubsampleSize: c.Model.SubsampleSize,
		MaxDepth:      c.Model.MaxDepth,
		Seed:          c.Model.Seed,
	}
}

// RiskTable returns the configured threshold table, or the default one when
// no file is set.
func (c *Config) RiskTable() (risk.Table, error) {
	if c.Risk.ThresholdsFile == "" {
		return risk.DefaultTable(), nil
	}
	t, err := risk.LoadTableFile(c.Risk.ThresholdsFile)
	if err != nil {
		return risk.Table{}, fmt.Errorf("risk thresholds: %w", err)
	}
	return t, nil
}
