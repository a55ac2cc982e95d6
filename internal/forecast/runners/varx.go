package runners

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/series"
)

// VARConfig configures the multivariate autoregressive runner.
type VARConfig struct {
	Lags int `yaml:"lags"` // lag order per channel (default 2)
}

// DefaultVARConfig returns the default VAR runner configuration.
func DefaultVARConfig() VARConfig {
	return VARConfig{Lags: 2}
}

// VARRunner fits a vector autoregression over the target plus optional
// exogenous series, aligned by date. Forecasting iterates the whole system
// forward so exogenous channels do not need future values. With no
// exogenous series it degenerates to a univariate AR of the target.
type VARRunner struct {
	cfg  VARConfig
	exog map[string]*series.Series
}

// NewVARRunner creates a multivariate autoregressive runner. exog may be
// nil or empty.
func NewVARRunner(cfg VARConfig, exog map[string]*series.Series) *VARRunner {
	if cfg.Lags <= 0 {
		cfg.Lags = 2
	}
	return &VARRunner{cfg: cfg, exog: exog}
}

func (r *VARRunner) Name() string { return "var" }

// Run fits the system and forecasts steps ahead for the target channel.
func (r *VARRunner) Run(ctx context.Context, history *series.Series, steps int) (*forecast.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channels, names := r.alignChannels(history)
	k := len(channels)
	p := r.cfg.Lags
	n := len(channels[0])
	minObs := p*k + 10
	if n < minObs {
		return nil, fmt.Errorf("var runner: %w (have %d aligned points, need %d)", forecast.ErrInsufficientHistory, n, minObs)
	}

	// Per-equation OLS: each channel regressed on p lags of every channel.
	coefs := make([][]float64, k)
	for eq := 0; eq < k; eq++ {
		c, err := fitVAREquation(channels, eq, p)
		if err != nil {
			return nil, fmt.Errorf("var runner equation %d: %w", eq, err)
		}
		coefs[eq] = c
	}

	// In-sample fit of the target channel (equation 0).
	fitted := make([]float64, 0, n-p)
	actual := make([]float64, 0, n-p)
	for t := p; t < n; t++ {
		fitted = append(fitted, varPredict(coefs[0], channels, t, p))
		actual = append(actual, channels[0][t])
	}
	residStd := residualStd(actual, fitted)

	// Iterate the full system forward, appending forecasts to each channel.
	work := make([][]float64, k)
	for i := range channels {
		work[i] = append([]float64(nil), channels[i]...)
	}
	means := make([]float64, steps)
	stds := make([]float64, steps)
	for h := 0; h < steps; h++ {
		t := len(work[0])
		next := make([]float64, k)
		for eq := 0; eq < k; eq++ {
			next[eq] = varPredict(coefs[eq], work, t, p)
		}
		for eq := 0; eq < k; eq++ {
			work[eq] = append(work[eq], next[eq])
		}
		means[h] = next[0]
		stds[h] = residStd * math.Sqrt(float64(h+1))
	}

	rmse, mape := fitMetrics(actual, fitted)
	return &forecast.ModelResult{
		Name: r.Name(),
		Package: forecast.ForecastPackage{
			Points:       buildPoints(history, means, stds),
			Methodology:  fmt.Sprintf("vector autoregression (%d channels, %d lags)", k, p),
			ErrorMetrics: map[string]float64{"rmse": rmse, "mape": mape},
			ResidualVol:  residStd,
			GeneratedAt:  time.Now().UTC(),
		},
		RMSE: rmse,
		MAPE: mape,
		Meta: map[string]any{"lags": p, "channels": names},
	}, nil
}

// alignChannels intersects the target with every exogenous series by date.
// The target is always channel 0. Exogenous series missing a target date
// drop that date for all channels.
func (r *VARRunner) alignChannels(history *series.Series) ([][]float64, []string) {
	names := []string{"target"}
	if len(r.exog) == 0 {
		return [][]float64{history.Values()}, names
	}

	exogNames := make([]string, 0, len(r.exog))
	for name := range r.exog {
		exogNames = append(exogNames, name)
	}
	// Deterministic channel order.
	for i := 0; i < len(exogNames); i++ {
		for j := i + 1; j < len(exogNames); j++ {
			if exogNames[j] < exogNames[i] {
				exogNames[i], exogNames[j] = exogNames[j], exogNames[i]
			}
		}
	}

	channels := make([][]float64, 1+len(exogNames))
	for i := 0; i < history.Len(); i++ {
		pt := history.At(i)
		row := make([]float64, len(exogNames))
		ok := true
		for j, name := range exogNames {
			v, found := r.exog[name].ValueOn(pt.Date, 0)
			if !found {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		channels[0] = append(channels[0], pt.Value)
		for j, v := range row {
			channels[1+j] = append(channels[1+j], v)
		}
	}
	return channels, append(names, exogNames...)
}

// fitVAREquation estimates [intercept, lag-1 channel coefs..., lag-p channel
// coefs...] for one equation by least squares.
func fitVAREquation(channels [][]float64, eq, p int) ([]float64, error) {
	k := len(channels)
	n := len(channels[0])
	rows := n - p
	cols := 1 + k*p
	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for t := p; t < n; t++ {
		row := t - p
		x.Set(row, 0, 1)
		col := 1
		for l := 1; l <= p; l++ {
			for c := 0; c < k; c++ {
				x.Set(row, col, channels[c][t-l])
				col++
			}
		}
		y.SetVec(row, channels[eq][t])
	}

	var qr mat.QR
	qr.Factorize(x)
	sol := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(sol, false, y); err != nil {
		return nil, fmt.Errorf("least squares solve failed: %w", err)
	}
	out := make([]float64, cols)
	for i := range out {
		out[i] = sol.AtVec(i)
	}
	return out, nil
}

// varPredict evaluates one fitted equation at time t using values < t.
func varPredict(coefs []float64, channels [][]float64, t, p int) float64 {
	k := len(channels)
	yhat := coefs[0]
	col := 1
	for l := 1; l <= p; l++ {
		for c := 0; c < k; c++ {
			yhat += coefs[col] * channels[c][t-l]
			col++
		}
	}
	return yhat
}

func residualStd(actual, fitted []float64) float64 {
	resid := make([]float64, len(actual))
	for i := range actual {
		resid[i] = actual[i] - fitted[i]
	}
	return metrics.Std(resid)
}
