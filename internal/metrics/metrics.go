// Package metrics provides pure error-metric functions over aligned
// actual/predicted slices. All functions are side-effect free.
package metrics

import (
	"fmt"
	"math"
)

// ErrMismatch is returned when the two input slices cannot be aligned.
var ErrMismatch = fmt.Errorf("actual and predicted slices differ in length")

// RMSE computes the root mean squared error.
func RMSE(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, ErrMismatch
	}
	if len(actual) == 0 {
		return 0, fmt.Errorf("rmse: empty input")
	}
	ss := 0.0
	for i := range actual {
		d := predicted[i] - actual[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(actual))), nil
}

// MAE computes the mean absolute error.
func MAE(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, ErrMismatch
	}
	if len(actual) == 0 {
		return 0, fmt.Errorf("mae: empty input")
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(predicted[i] - actual[i])
	}
	return sum / float64(len(actual)), nil
}

// MAPE computes the mean absolute percentage error, expressed in percent.
// Observations with a zero actual are skipped; all-zero actuals return an
// error since the metric is undefined there.
func MAPE(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, ErrMismatch
	}
	sum := 0.0
	n := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((predicted[i] - actual[i]) / actual[i])
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("mape: no nonzero actuals")
	}
	return sum / float64(n) * 100, nil
}

// Bias computes the mean signed error (predicted - actual). Positive bias
// means systematic over-forecasting.
func Bias(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, ErrMismatch
	}
	if len(actual) == 0 {
		return 0, fmt.Errorf("bias: empty input")
	}
	sum := 0.0
	for i := range actual {
		sum += predicted[i] - actual[i]
	}
	return sum / float64(len(actual)), nil
}

// Coverage computes the fraction of actuals falling inside [low, high] per
// index. All three slices must align.
func Coverage(actual, low, high []float64) (float64, error) {
	if len(actual) != len(low) || len(actual) != len(high) {
		return 0, ErrMismatch
	}
	if len(actual) == 0 {
		return 0, fmt.Errorf("coverage: empty input")
	}
	hits := 0
	for i := range actual {
		if actual[i] >= low[i] && actual[i] <= high[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(actual)), nil
}

// DirectionalAccuracy computes the fraction of steps where predicted and
// actual moved in the same direction relative to the previous actual.
// Requires at least two aligned points.
func DirectionalAccuracy(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, ErrMismatch
	}
	if len(actual) < 2 {
		return 0, fmt.Errorf("directional accuracy: need at least 2 points")
	}
	hits := 0
	for i := 1; i < len(actual); i++ {
		actualMove := actual[i] - actual[i-1]
		predictedMove := predicted[i] - actual[i-1]
		if (actualMove >= 0) == (predictedMove >= 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(actual)-1), nil
}

// Std returns the sample standard deviation of a slice (0 for n < 2).
func Std(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Mean returns the arithmetic mean of a slice (0 when empty).
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
