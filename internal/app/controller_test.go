package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/config"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
)

func testController(t *testing.T, actuals source.ActualSource) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.Store.File.Dir = t.TempDir()
	ctl, err := New(cfg, actuals)
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })
	return ctl
}

func dailySeries(start time.Time, n int) *series.Series {
	values := make([]float64, n)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	return series.FromValues(start, values)
}

// A long-running schedule reconciles against actuals that realize after the
// process starts, so a per-call source override must take precedence over
// the source the controller was built with.
func TestReconcileSourceOverride(t *testing.T) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -30)

	// The startup source ends 11 days ago; the fresh one includes yesterday.
	stale := source.NewSeriesSource(dailySeries(start, 20))
	fresh := source.NewSeriesSource(dailySeries(start, 31))

	ctl := testController(t, stale)
	ctx := context.Background()

	target := today.AddDate(0, 0, -1)
	require.NoError(t, ctl.Tracker().LogPrediction(ctx, today.AddDate(0, 0, -10), "1m", target, 120, 110, 130))

	// nil falls back to the configured source, which has no value yet.
	updated, err := ctl.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, updated)

	updated, err = ctl.Reconcile(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	// Already reconciled; a second pass is a no-op.
	updated, err = ctl.Reconcile(ctx, fresh)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestReconcileWithoutAnySource(t *testing.T) {
	ctl := testController(t, nil)
	_, err := ctl.Reconcile(context.Background(), nil)
	require.Error(t, err)
}
