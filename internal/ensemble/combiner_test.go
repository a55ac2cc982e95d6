package ensemble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastops/forecastops/internal/forecast"
)

func modelResult(name string, rmse float64, means []float64, std float64) *forecast.ModelResult {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	points := make([]forecast.ForecastPoint, len(means))
	for i, m := range means {
		points[i] = forecast.ForecastPoint{
			Date:     start.AddDate(0, 0, i),
			Mean:     m,
			CI80Low:  m - 1.3*std,
			CI80High: m + 1.3*std,
			CI95Low:  m - 2*std,
			CI95High: m + 2*std,
			StdDev:   std,
		}
	}
	return &forecast.ModelResult{
		Name: name,
		Package: forecast.ForecastPackage{
			Points:      points,
			Methodology: name,
			ResidualVol: std,
			GeneratedAt: time.Now().UTC(),
		},
		RMSE: rmse,
		MAPE: rmse, // close enough for weighting tests
	}
}

func TestComputeWeightsInverseRMSE(t *testing.T) {
	c := New()
	results := []*forecast.ModelResult{
		modelResult("a", 1, nil, 1),
		modelResult("b", 2, nil, 1),
		modelResult("c", 4, nil, 1),
	}
	w, err := c.ComputeWeights(results)
	require.NoError(t, err)
	require.Len(t, w, 3)

	sum := w[0] + w[1] + w[2]
	assert.InDelta(t, 1.0, sum, 1e-9, "weights must sum to one")

	// 1/1 : 1/2 : 1/4 normalizes to 4/7 : 2/7 : 1/7.
	assert.InDelta(t, 4.0/7.0, w[0], 1e-9)
	assert.InDelta(t, 2.0/7.0, w[1], 1e-9)
	assert.InDelta(t, 1.0/7.0, w[2], 1e-9)
}

func TestComputeWeightsZeroRMSEFloored(t *testing.T) {
	c := New()
	w, err := c.ComputeWeights([]*forecast.ModelResult{
		modelResult("perfect", 0, nil, 1),
		modelResult("ok", 1, nil, 1),
	})
	require.NoError(t, err)
	assert.Greater(t, w[0], w[1], "floored RMSE still dominates")
	assert.InDelta(t, 1.0, w[0]+w[1], 1e-9)
}

func TestComputeWeightsEmpty(t *testing.T) {
	_, err := New().ComputeWeights(nil)
	assert.Error(t, err)
}

func TestCombineSingleModelPassthrough(t *testing.T) {
	c := New()
	res := modelResult("solo", 1.5, []float64{10, 11, 12}, 0.5)
	pkg, err := c.Combine([]*forecast.ModelResult{res}, []float64{1}, 3, Options{})
	require.NoError(t, err)
	assert.Equal(t, "solo", pkg.Methodology)
	assert.Equal(t, res.Package.Points, pkg.Points)
}

func TestCombineWeightedMeanAndNestedIntervals(t *testing.T) {
	c := New()
	results := []*forecast.ModelResult{
		modelResult("low", 1, []float64{10, 10, 10}, 1),
		modelResult("high", 1, []float64{20, 20, 20}, 1),
	}
	w, err := c.ComputeWeights(results)
	require.NoError(t, err)

	pkg, err := c.Combine(results, w, 3, Options{})
	require.NoError(t, err)
	require.Len(t, pkg.Points, 3)
	require.NoError(t, pkg.Validate())

	for _, p := range pkg.Points {
		// Combined mean stays between the member means.
		assert.GreaterOrEqual(t, p.Mean, 10.0)
		assert.LessOrEqual(t, p.Mean, 20.0)
		assert.Less(t, p.CI95Low, p.CI80Low)
		assert.Greater(t, p.CI95High, p.CI80High)
		assert.GreaterOrEqual(t, p.StdDev, 0.0)
	}
	assert.Equal(t, "ensemble[high,low]", pkg.Methodology, "member names sorted")
}

func TestCombineIntervalScaleWidens(t *testing.T) {
	c := New()
	results := []*forecast.ModelResult{
		modelResult("a", 1, []float64{10, 10}, 1),
		modelResult("b", 1, []float64{12, 12}, 1),
	}
	w, _ := c.ComputeWeights(results)

	base, err := c.Combine(results, w, 2, Options{})
	require.NoError(t, err)
	wide, err := c.Combine(results, w, 2, Options{IntervalScale: 1.25})
	require.NoError(t, err)

	baseWidth := base.Points[0].CI95High - base.Points[0].CI95Low
	wideWidth := wide.Points[0].CI95High - wide.Points[0].CI95Low
	assert.InDelta(t, 1.25, wideWidth/baseWidth, 1e-9)
	// Scaling widens bands but leaves the mean alone.
	assert.InDelta(t, base.Points[0].Mean, wide.Points[0].Mean, 1e-12)
}

func TestCombineLengthMismatch(t *testing.T) {
	c := New()
	results := []*forecast.ModelResult{
		modelResult("short", 1, []float64{10}, 1),
		modelResult("long", 1, []float64{10, 11, 12}, 1),
	}
	w, _ := c.ComputeWeights(results)
	_, err := c.Combine(results, w, 3, Options{})
	assert.Error(t, err)

	_, err = c.Combine(results, []float64{1}, 1, Options{})
	assert.Error(t, err, "weights must align with results")
}
