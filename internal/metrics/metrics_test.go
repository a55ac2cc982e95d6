package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSE(t *testing.T) {
	got, err := RMSE([]float64{1, 2, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = RMSE([]float64{0, 0}, []float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 3.5355339, got, 1e-6)

	_, err = RMSE([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = RMSE(nil, nil)
	assert.Error(t, err)
}

func TestMAEAndBiasSign(t *testing.T) {
	mae, err := MAE([]float64{10, 10}, []float64{12, 7})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mae, 1e-12)

	// Bias is predicted minus actual: over-forecasting is positive.
	bias, err := Bias([]float64{10, 10}, []float64{12, 14})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, bias, 1e-12)
}

func TestMAPESkipsZeroActuals(t *testing.T) {
	got, err := MAPE([]float64{100, 0, 200}, []float64{110, 5, 180})
	require.NoError(t, err)
	// Only the two nonzero actuals count: (10% + 10%) / 2.
	assert.InDelta(t, 10.0, got, 1e-9)

	_, err = MAPE([]float64{0, 0}, []float64{1, 2})
	assert.Error(t, err, "all-zero actuals leave the metric undefined")
}

func TestCoverage(t *testing.T) {
	got, err := Coverage(
		[]float64{5, 5, 5, 5},
		[]float64{4, 6, 5, 0},
		[]float64{6, 7, 5, 4},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	_, err = Coverage([]float64{1}, []float64{1, 2}, []float64{3})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestDirectionalAccuracy(t *testing.T) {
	// Actual rises both steps; prediction agrees on the first, not the second.
	got, err := DirectionalAccuracy([]float64{10, 12, 14}, []float64{11, 13, 11})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	_, err = DirectionalAccuracy([]float64{1}, []float64{1})
	assert.Error(t, err)
}

func TestMeanStd(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.Zero(t, Std([]float64{42}))
	assert.InDelta(t, 4.0, Mean([]float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, 2.0, Std([]float64{2, 4, 6}), 1e-12)
}
