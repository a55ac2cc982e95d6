package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/duration"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
artifacts_dir: out
jobs:
  - name: daily-forecast
    step: forecast
    horizon: 1m
    every: 24h
    enabled: true
  - name: disabled-job
    step: optimize
    horizon: 1m
    every: 720h
    enabled: false
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.ArtifactsDir)
	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, "forecast", cfg.Jobs[0].Step)
	assert.Equal(t, duration.Duration(24*time.Hour), cfg.Jobs[0].Every)
	assert.True(t, cfg.Jobs[0].Enabled)
	assert.False(t, cfg.Jobs[1].Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRunRejectsUnknownStep(t *testing.T) {
	s := New(Config{
		ArtifactsDir: t.TempDir(),
		Jobs:         []Job{{Name: "bad", Step: "nonexistent", Every: duration.Duration(time.Hour), Enabled: true}},
	}, map[string]StepFunc{})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestRunRejectsNoEnabledJobs(t *testing.T) {
	s := New(Config{
		ArtifactsDir: t.TempDir(),
		Jobs:         []Job{{Name: "off", Step: "forecast", Every: duration.Duration(time.Hour), Enabled: false}},
	}, map[string]StepFunc{"forecast": func(context.Context, string) (any, error) { return nil, nil }})

	err := s.Run(context.Background())
	require.Error(t, err)
}

func TestRunFiresImmediatelyAndWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	steps := map[string]StepFunc{
		"forecast": func(ctx context.Context, horizon string) (any, error) {
			calls.Add(1)
			return map[string]string{"horizon": horizon}, nil
		},
	}
	s := New(Config{
		ArtifactsDir: dir,
		Jobs:         []Job{{Name: "fast", Step: "forecast", Horizon: "1m", Every: duration.Duration(time.Hour), Enabled: true}},
	}, steps)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, int64(1), calls.Load(), "first fire happens without waiting an interval")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "fast_")
}

func TestStepFailureDoesNotStopTheLoop(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	steps := map[string]StepFunc{
		"monitor": func(ctx context.Context, horizon string) (any, error) {
			calls.Add(1)
			return nil, errors.New("window unreadable")
		},
	}
	s := New(Config{
		ArtifactsDir: dir,
		Jobs:         []Job{{Name: "flaky", Step: "monitor", Horizon: "1m", Every: duration.Duration(50 * time.Millisecond), Enabled: true}},
	}, steps)

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.GreaterOrEqual(t, calls.Load(), int64(2), "failures must not cancel the ticker")
}
