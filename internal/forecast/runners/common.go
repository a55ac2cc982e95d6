// Package runners implements the built-in forecasting techniques behind the
// forecast.Runner contract: autoregressive with volatility scaling,
// multivariate autoregressive, gradient-boosted trees, and a pretrained
// foundation-model client.
package runners

import (
	"sort"
	"time"

	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/series"
)

// Normal critical values used for per-model bands. The ensemble combiner
// rebuilds bands with Student-t; these only matter for single-model use.
const (
	z80 = 1.2816
	z95 = 1.9600
)

// stepSpacing estimates the sampling interval of the history from the
// median gap between observations, defaulting to one day.
func stepSpacing(history *series.Series) time.Duration {
	n := history.Len()
	if n < 2 {
		return 24 * time.Hour
	}
	gaps := make([]time.Duration, 0, n-1)
	for i := 1; i < n; i++ {
		gaps = append(gaps, history.At(i).Date.Sub(history.At(i-1).Date))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// buildPoints constructs horizon points from per-step means and standard
// deviations, stepping forward from the last observation.
func buildPoints(history *series.Series, means, stds []float64) []forecast.ForecastPoint {
	spacing := stepSpacing(history)
	last := history.Last().Date
	points := make([]forecast.ForecastPoint, len(means))
	for i := range means {
		sd := stds[i]
		if sd < 0 {
			sd = 0
		}
		points[i] = forecast.ForecastPoint{
			Date:     last.Add(spacing * time.Duration(i+1)),
			Mean:     means[i],
			CI80Low:  means[i] - z80*sd,
			CI80High: means[i] + z80*sd,
			CI95Low:  means[i] - z95*sd,
			CI95High: means[i] + z95*sd,
			StdDev:   sd,
		}
	}
	return points
}

// fitMetrics computes in-sample RMSE and MAPE from aligned actual/fitted
// values, tolerating an undefined MAPE (all-zero actuals) as 0.
func fitMetrics(actual, fitted []float64) (rmse, mape float64) {
	rmse, err := metrics.RMSE(actual, fitted)
	if err != nil {
		rmse = 0
	}
	mape, err = metrics.MAPE(actual, fitted)
	if err != nil {
		mape = 0
	}
	return rmse, mape
}
