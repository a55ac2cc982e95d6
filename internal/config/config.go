// Package config loads the repo-wide controller configuration from YAML,
// applying component defaults for anything left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forecastops/forecastops/internal/cache"
	"github.com/forecastops/forecastops/internal/deploy"
	"github.com/forecastops/forecastops/internal/drift"
	"github.com/forecastops/forecastops/internal/forecast/runners"
	"github.com/forecastops/forecastops/internal/optimizer"
	"github.com/forecastops/forecastops/internal/perfmon"
	"github.com/forecastops/forecastops/internal/regime"
	"github.com/forecastops/forecastops/internal/source"
	"github.com/forecastops/forecastops/internal/store"
	"github.com/forecastops/forecastops/internal/tracker"
	"github.com/forecastops/forecastops/internal/trigger"
	"github.com/forecastops/forecastops/internal/validator"
)

// RunnersConfig selects and tunes the forecasting techniques.
type RunnersConfig struct {
	EnableAR         bool                      `yaml:"enable_ar"`
	EnableVAR        bool                      `yaml:"enable_var"`
	EnableTree       bool                      `yaml:"enable_tree"`
	EnableFoundation bool                      `yaml:"enable_foundation"`
	AR               runners.ARConfig          `yaml:"ar"`
	VAR              runners.VARConfig         `yaml:"var"`
	Tree             runners.TreeConfig        `yaml:"tree"`
	Foundation       runners.FoundationParams  `yaml:"foundation"`
	Backend          runners.HTTPBackendConfig `yaml:"backend"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend  string                `yaml:"backend"` // "file" (default) or "postgres"
	File     store.FileStoreConfig `yaml:"file"`
	Postgres store.PostgresConfig  `yaml:"postgres"`
}

// CacheConfig toggles the redis actuals cache.
type CacheConfig struct {
	Enabled bool         `yaml:"enabled"`
	Redis   cache.Config `yaml:"redis"`
}

// ActualsConfig selects where realized values come from.
type ActualsConfig struct {
	// Backend "series" reads actuals from the input series file;
	// "http" queries a remote provider.
	Backend string                  `yaml:"backend"`
	HTTP    source.HTTPSourceConfig `yaml:"http"`
}

// Config is the full controller configuration.
type Config struct {
	Horizons      []string          `yaml:"horizons"`       // e.g. ["1m", "3m"]
	ForecastSteps int               `yaml:"forecast_steps"` // horizon points per forecast (default 30)
	LookbackDays  int               `yaml:"lookback_days"`  // reconciliation window (default 90)
	Runners       RunnersConfig     `yaml:"runners"`
	Store         StoreConfig       `yaml:"store"`
	Cache         CacheConfig       `yaml:"cache"`
	Actuals       ActualsConfig     `yaml:"actuals"`
	Tracker       tracker.Config    `yaml:"tracker"`
	Drift         drift.Config      `yaml:"drift"`
	Perfmon       perfmon.Config    `yaml:"perfmon"`
	Regime        regime.Config     `yaml:"regime"`
	Trigger       trigger.Config    `yaml:"trigger"`
	Optimizer     optimizer.Config  `yaml:"optimizer"`
	Validator     validator.Config  `yaml:"validator"`
	Deploy        deploy.Config     `yaml:"deploy"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Horizons:      []string{"1m"},
		ForecastSteps: 30,
		LookbackDays:  90,
		Runners: RunnersConfig{
			EnableAR:   true,
			EnableVAR:  true,
			EnableTree: true,
			AR:         runners.DefaultARConfig(),
			VAR:        runners.DefaultVARConfig(),
			Tree:       runners.DefaultTreeConfig(),
			Foundation: runners.DefaultFoundationParams(),
			Backend:    runners.DefaultHTTPBackendConfig(),
		},
		Store: StoreConfig{
			Backend: "file",
			File:    store.DefaultFileStoreConfig(),
		},
		Cache:     CacheConfig{Redis: cache.DefaultConfig()},
		Actuals:   ActualsConfig{Backend: "series", HTTP: source.DefaultHTTPSourceConfig()},
		Tracker:   tracker.DefaultConfig(),
		Drift:     drift.DefaultConfig(),
		Perfmon:   perfmon.DefaultConfig(),
		Regime:    regime.DefaultConfig(),
		Trigger:   trigger.DefaultConfig(),
		Optimizer: optimizer.DefaultConfig(),
		Validator: validator.DefaultConfig(),
		Deploy:    deploy.DefaultConfig(),
	}
}

// Load reads path over the defaults. A missing path returns the defaults
// untouched so a bare checkout still runs.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Horizons) == 0 {
		cfg.Horizons = []string{"1m"}
	}
	if cfg.ForecastSteps <= 0 {
		cfg.ForecastSteps = 30
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 90
	}
	return cfg, nil
}
