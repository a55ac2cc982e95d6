package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/duration"
)

func TestDefaultIsComplete(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"1m"}, cfg.Horizons)
	assert.Equal(t, 30, cfg.ForecastSteps)
	assert.Equal(t, 90, cfg.LookbackDays)
	assert.True(t, cfg.Runners.EnableAR)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "series", cfg.Actuals.Backend)
	assert.Equal(t, 3, cfg.Tracker.MaxDriftDays)
	assert.Equal(t, 14, cfg.Trigger.CooldownDays)
	assert.Equal(t, 30, cfg.Validator.HoldoutDays)
}

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
horizons: ["1m", "3m"]
forecast_steps: 60
store:
  backend: postgres
  postgres:
    dsn: postgres://localhost/forecastops
    lock_timeout: 2s
drift:
  alpha: 0.01
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1m", "3m"}, cfg.Horizons)
	assert.Equal(t, 60, cfg.ForecastSteps)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, duration.Duration(2*time.Second), cfg.Store.Postgres.LockTimeout)
	assert.Equal(t, 0.01, cfg.Drift.Alpha)

	// Untouched sections keep their defaults.
	assert.Equal(t, 90, cfg.LookbackDays)
	assert.Equal(t, 14, cfg.Trigger.CooldownDays)
	assert.True(t, cfg.Runners.EnableTree)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("horizons: [unterminated"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
