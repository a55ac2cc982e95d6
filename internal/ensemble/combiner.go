// Package ensemble merges multiple model forecasts into one calibrated
// package using inverse-error weighting and Student-t interval
// reconstruction.
package ensemble

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/forecastops/forecastops/internal/forecast"
)

const (
	// rmseEpsilon floors RMSE in the inverse weighting so a perfectly
	// fitting model cannot divide by zero.
	rmseEpsilon = 1e-6

	// intervalDF is the fixed Student-t degrees of freedom for band
	// reconstruction. 30 df widens intervals modestly versus a normal
	// quantile, standing in for estimation uncertainty the weighted
	// variance does not capture.
	intervalDF = 30
)

// Options tune the combination.
type Options struct {
	// IntervalScale multiplies interval half-widths; the regime detector
	// sets it above 1 under stress. Zero means 1.
	IntervalScale float64
}

// Combiner merges model results. Zero value is ready to use.
type Combiner struct{}

// New creates a Combiner.
func New() *Combiner { return &Combiner{} }

// ComputeWeights returns normalized inverse-RMSE weights over the results.
// Weights always sum to 1 and are non-negative; degenerate inputs (all
// inverse weights zero) fall back to uniform 1/N.
func (c *Combiner) ComputeWeights(results []*forecast.ModelResult) ([]float64, error) {
	n := len(results)
	if n == 0 {
		return nil, fmt.Errorf("compute weights: no model results")
	}
	inv := make([]float64, n)
	sum := 0.0
	for i, res := range results {
		rmse := res.RMSE
		if rmse < rmseEpsilon {
			rmse = rmseEpsilon
		}
		inv[i] = 1 / rmse
		sum += inv[i]
	}
	weights := make([]float64, n)
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights, nil
	}
	for i := range weights {
		weights[i] = inv[i] / sum
	}
	return weights, nil
}

// Combine produces the ensemble forecast over the first `steps` horizon
// points. A single-model ensemble returns that model's package unchanged.
func (c *Combiner) Combine(results []*forecast.ModelResult, weights []float64, steps int, opts Options) (*forecast.ForecastPackage, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("combine: no model results")
	}
	if len(results) != len(weights) {
		return nil, fmt.Errorf("combine: %d results but %d weights", len(results), len(weights))
	}
	if len(results) == 1 {
		pkg := results[0].Package
		return &pkg, nil
	}
	for _, res := range results {
		if len(res.Package.Points) < steps {
			return nil, fmt.Errorf("combine: model %q has %d points, need %d", res.Name, len(res.Package.Points), steps)
		}
	}

	scale := opts.IntervalScale
	if scale <= 0 {
		scale = 1
	}
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: intervalDF}
	t80 := tDist.Quantile(0.90)  // ~1.310
	t95 := tDist.Quantile(0.975) // ~2.042

	points := make([]forecast.ForecastPoint, steps)
	for step := 0; step < steps; step++ {
		mean := 0.0
		sd := 0.0
		for i, res := range results {
			p := res.Package.Points[step]
			mean += weights[i] * p.Mean
			// Weighted average of std devs, assuming independence across
			// models. Known simplification: inter-model correlation is not
			// modeled.
			sd += weights[i] * p.StdDev
		}
		points[step] = forecast.ForecastPoint{
			Date:     results[0].Package.Points[step].Date,
			Mean:     mean,
			CI80Low:  mean - t80*sd*scale,
			CI80High: mean + t80*sd*scale,
			CI95Low:  mean - t95*sd*scale,
			CI95High: mean + t95*sd*scale,
			StdDev:   sd,
		}
	}

	names := make([]string, len(results))
	for i, res := range results {
		names[i] = res.Name
	}
	sort.Strings(names)

	errMetrics := map[string]float64{}
	for i, res := range results {
		errMetrics["rmse"] += weights[i] * res.RMSE
		errMetrics["mape"] += weights[i] * res.MAPE
	}
	residVol := 0.0
	for i, res := range results {
		residVol += weights[i] * res.Package.ResidualVol
	}

	pkg := &forecast.ForecastPackage{
		Points:       points,
		Methodology:  fmt.Sprintf("ensemble[%s]", strings.Join(names, ",")),
		ErrorMetrics: errMetrics,
		ResidualVol:  residVol,
		GeneratedAt:  time.Now().UTC(),
	}
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("combine: produced invalid package: %w", err)
	}
	return pkg, nil
}
