package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/duration"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
	"github.com/forecastops/forecastops/internal/store"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.NewFileStore(store.FileStoreConfig{Dir: t.TempDir(), LockTimeout: duration.Duration(2 * time.Second)})
	require.NoError(t, err)
	trk := New(st, DefaultConfig())
	trk.SetClock(func() time.Time { return day(2026, 6, 15) })
	return trk
}

type failingSource struct{}

func (failingSource) ValueOn(context.Context, time.Time, int) (float64, bool, error) {
	return 0, false, errors.New("provider down")
}

func TestLogPredictionValidation(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()

	cases := []struct {
		name              string
		forecast, target  time.Time
		mean, low, high   float64
	}{
		{"target before forecast", day(2026, 6, 10), day(2026, 6, 5), 10, 9, 11},
		{"target equals forecast", day(2026, 6, 10), day(2026, 6, 10), 10, 9, 11},
		{"low above mean", day(2026, 6, 10), day(2026, 6, 20), 10, 12, 15},
		{"mean above high", day(2026, 6, 10), day(2026, 6, 20), 10, 5, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := trk.LogPrediction(ctx, tc.forecast, "1m", tc.target, tc.mean, tc.low, tc.high)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

func TestLogPredictionDuplicateIsNoOp(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 100, 90, 110))
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 999, 900, 1100))

	records, err := trk.Records(ctx, "1m", 90)
	require.NoError(t, err)
	require.Len(t, records, 1, "re-logging the same key must not create a second record")
	assert.Equal(t, 100.0, records[0].PredictedMean, "first write wins")
}

func TestReconcileComputesSignedError(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 105, 95, 115))

	actuals := source.NewSeriesSource(series.FromValues(day(2026, 6, 10), []float64{100}))
	updated, err := trk.Reconcile(ctx, actuals, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	records, err := trk.Records(ctx, "1m", 90)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	require.NotNil(t, rec.ActualValue)
	assert.Equal(t, 100.0, *rec.ActualValue)
	require.NotNil(t, rec.Error)
	assert.InDelta(t, 5.0, *rec.Error, 1e-12, "error is predicted minus actual")
	require.NotNil(t, rec.AbsError)
	assert.InDelta(t, 5.0, *rec.AbsError, 1e-12)
	require.NotNil(t, rec.PctError)
	assert.InDelta(t, 5.0, *rec.PctError, 1e-12)
}

func TestReconcileIsIdempotent(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 105, 95, 115))

	actuals := source.NewSeriesSource(series.FromValues(day(2026, 6, 10), []float64{100}))
	updated, err := trk.Reconcile(ctx, actuals, 90)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	// A second pass finds nothing unresolved.
	updated, err = trk.Reconcile(ctx, actuals, 90)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestReconcileSkipsFutureAndStaleTargets(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()

	// Future target: not yet due.
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 14), "1m", day(2026, 7, 20), 100, 90, 110))
	// Stale target: outside the lookback window.
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 1, 1), "1m", day(2026, 1, 10), 100, 90, 110))

	actuals := source.NewSeriesSource(series.FromValues(day(2026, 1, 1), make([]float64, 200)))
	updated, err := trk.Reconcile(ctx, actuals, 30)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestReconcileSourceDownIsNotFatal(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 105, 95, 115))

	updated, err := trk.Reconcile(ctx, failingSource{}, 90)
	require.NoError(t, err, "a down provider defers reconciliation, never fails it")
	assert.Zero(t, updated)
}

func TestReconcileNearestDateWithinDrift(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 10), 105, 95, 115))

	// Actuals only exist on Jun 8 and Jun 13; Jun 8 is 2 days away, inside
	// the 3-day drift window, and closer than Jun 13.
	pts := []series.Point{
		{Date: day(2026, 6, 8), Value: 80},
		{Date: day(2026, 6, 13), Value: 130},
	}
	s, err := series.New(pts)
	require.NoError(t, err)

	updated, err := trk.Reconcile(ctx, source.NewSeriesSource(s), 90)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	records, err := trk.Records(ctx, "1m", 90)
	require.NoError(t, err)
	require.NotNil(t, records[0].ActualValue)
	assert.Equal(t, 80.0, *records[0].ActualValue)
}

func TestPerformanceNoDataSentinel(t *testing.T) {
	trk := newTestTracker(t)
	perf, err := trk.Performance(context.Background(), "1m", 90)
	require.NoError(t, err)
	assert.False(t, perf.HasData)
	assert.Zero(t, perf.SampleCount)
}

func TestPerformanceAggregatesReconciledOnly(t *testing.T) {
	trk := newTestTracker(t)
	ctx := context.Background()

	// Two reconcilable records, one still pending.
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 5), 102, 92, 112))
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 6, 6), 98, 88, 108))
	require.NoError(t, trk.LogPrediction(ctx, day(2026, 6, 1), "1m", day(2026, 7, 5), 100, 90, 110))

	actuals := source.NewSeriesSource(series.FromValues(day(2026, 6, 5), []float64{100, 100}))
	_, err := trk.Reconcile(ctx, actuals, 90)
	require.NoError(t, err)

	perf, err := trk.Performance(ctx, "1m", 90)
	require.NoError(t, err)
	assert.True(t, perf.HasData)
	assert.Equal(t, 2, perf.SampleCount)
	assert.Equal(t, 1, perf.PendingCount)
	assert.InDelta(t, 2.0, perf.RMSE, 1e-9)
	assert.InDelta(t, 2.0, perf.MAE, 1e-9)
	assert.InDelta(t, 0.0, perf.Bias, 1e-9, "errors +2 and -2 cancel")
	assert.InDelta(t, 1.0, perf.Coverage95, 1e-9)
}
