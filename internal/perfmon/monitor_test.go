package perfmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/duration"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
	"github.com/forecastops/forecastops/internal/store"
	"github.com/forecastops/forecastops/internal/tracker"
)

var fixedNow = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// seedRecords logs and reconciles one record per target date with the given
// prediction offset from the constant actual value 100.
func seedRecords(t *testing.T, trk *tracker.Tracker, targets []time.Time, offset float64) {
	t.Helper()
	ctx := context.Background()
	for _, target := range targets {
		err := trk.LogPrediction(ctx, target.AddDate(0, 0, -30), "1m", target, 100+offset, 80, 130)
		require.NoError(t, err)
	}
	actuals := source.NewSeriesSource(series.FromValues(day(2026, 5, 1), constant(100, 90)))
	_, err := trk.Reconcile(ctx, actuals, 120)
	require.NoError(t, err)
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func dateRange(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.AddDate(0, 0, i)
	}
	return out
}

func newTestMonitor(t *testing.T) (*Monitor, *tracker.Tracker) {
	t.Helper()
	st, err := store.NewFileStore(store.FileStoreConfig{Dir: t.TempDir(), LockTimeout: duration.Duration(2 * time.Second)})
	require.NoError(t, err)
	trk := tracker.New(st, tracker.DefaultConfig())
	trk.SetClock(func() time.Time { return fixedNow })
	m := New(trk, DefaultConfig())
	m.SetClock(func() time.Time { return fixedNow })
	return m, trk
}

func TestCheckInsufficientData(t *testing.T) {
	m, _ := newTestMonitor(t)
	report, err := m.Check(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, report.Status)
	assert.False(t, report.Degraded())
}

func TestCheckStableErrorsAreGood(t *testing.T) {
	m, trk := newTestMonitor(t)
	// Same +1 error in baseline (Jun 1-12) and recent (Jun 20-25) windows.
	seedRecords(t, trk, dateRange(day(2026, 6, 1), 12), 1)
	seedRecords(t, trk, dateRange(day(2026, 6, 20), 6), 1)

	report, err := m.Check(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, StatusGood, report.Status)
	assert.False(t, report.Degraded())
	assert.InDelta(t, 0.0, report.RMSEDegradationPct(), 1e-9)
	assert.Equal(t, 12, report.BaselineCount)
	assert.Equal(t, 6, report.RecentCount)
}

func TestCheckDoubledErrorIsCritical(t *testing.T) {
	m, trk := newTestMonitor(t)
	seedRecords(t, trk, dateRange(day(2026, 6, 1), 12), 1)
	seedRecords(t, trk, dateRange(day(2026, 6, 20), 6), 2)

	report, err := m.Check(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.True(t, report.Degraded())
	assert.InDelta(t, 100.0, report.RMSEDegradationPct(), 1e-6)
}

func TestCheckImprovementIsExcellent(t *testing.T) {
	m, trk := newTestMonitor(t)
	seedRecords(t, trk, dateRange(day(2026, 6, 1), 12), 1)
	seedRecords(t, trk, dateRange(day(2026, 6, 20), 6), 0.5)

	report, err := m.Check(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, StatusExcellent, report.Status)
	assert.False(t, report.Degraded())
	assert.Less(t, report.RMSEDegradationPct(), 0.0)
}

func TestCheckTooFewRecentSamples(t *testing.T) {
	m, trk := newTestMonitor(t)
	seedRecords(t, trk, dateRange(day(2026, 6, 1), 12), 1)
	seedRecords(t, trk, dateRange(day(2026, 6, 20), 2), 3)

	report, err := m.Check(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, report.Status)
	assert.Equal(t, 2, report.RecentCount)
}
