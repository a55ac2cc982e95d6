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

// ARConfig configures the autoregressive runner.
type ARConfig struct {
	Lags      int     `yaml:"lags"`       // AR order p (default 5)
	VolLambda float64 `yaml:"vol_lambda"` // EWMA decay for residual volatility (default 0.94)
}

// DefaultARConfig returns the default AR runner configuration.
func DefaultARConfig() ARConfig {
	return ARConfig{Lags: 5, VolLambda: 0.94}
}

// ARRunner fits an AR(p) model by least squares and scales forecast
// uncertainty with an EWMA estimate of residual volatility, so recent
// turbulence widens the bands faster than a flat residual std would.
type ARRunner struct {
	cfg ARConfig
}

// NewARRunner creates an autoregressive runner.
func NewARRunner(cfg ARConfig) *ARRunner {
	if cfg.Lags <= 0 {
		cfg.Lags = 5
	}
	if cfg.VolLambda <= 0 || cfg.VolLambda >= 1 {
		cfg.VolLambda = 0.94
	}
	return &ARRunner{cfg: cfg}
}

func (r *ARRunner) Name() string { return "ar_volatility" }

// Run fits the model and produces a steps-long forecast.
func (r *ARRunner) Run(ctx context.Context, history *series.Series, steps int) (*forecast.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := r.cfg.Lags
	values := history.Values()
	n := len(values)
	if n < p+10 {
		return nil, fmt.Errorf("ar runner: %w (have %d points, need %d)", forecast.ErrInsufficientHistory, n, p+10)
	}

	coefs, err := fitAR(values, p)
	if err != nil {
		return nil, fmt.Errorf("ar runner: %w", err)
	}

	// In-sample fit and residuals.
	fitted := make([]float64, 0, n-p)
	actual := make([]float64, 0, n-p)
	residuals := make([]float64, 0, n-p)
	for t := p; t < n; t++ {
		yhat := arPredict(coefs, values[:t])
		fitted = append(fitted, yhat)
		actual = append(actual, values[t])
		residuals = append(residuals, values[t]-yhat)
	}

	// EWMA variance of residuals, seeded with the plain sample variance.
	ewmaVar := metrics.Std(residuals)
	ewmaVar *= ewmaVar
	for _, e := range residuals {
		ewmaVar = r.cfg.VolLambda*ewmaVar + (1-r.cfg.VolLambda)*e*e
	}
	vol := math.Sqrt(ewmaVar)

	// Recursive multi-step forecast.
	extended := append([]float64(nil), values...)
	means := make([]float64, steps)
	stds := make([]float64, steps)
	for h := 0; h < steps; h++ {
		yhat := arPredict(coefs, extended)
		extended = append(extended, yhat)
		means[h] = yhat
		stds[h] = vol * math.Sqrt(float64(h+1))
	}

	rmse, mape := fitMetrics(actual, fitted)
	return &forecast.ModelResult{
		Name: r.Name(),
		Package: forecast.ForecastPackage{
			Points:       buildPoints(history, means, stds),
			Methodology:  "autoregressive with EWMA volatility",
			ErrorMetrics: map[string]float64{"rmse": rmse, "mape": mape},
			ResidualVol:  vol,
			GeneratedAt:  time.Now().UTC(),
		},
		RMSE: rmse,
		MAPE: mape,
		Meta: map[string]any{"lags": p, "vol_lambda": r.cfg.VolLambda},
	}, nil
}

// fitAR estimates [intercept, phi_1..phi_p] by ordinary least squares.
func fitAR(values []float64, p int) ([]float64, error) {
	n := len(values)
	rows := n - p
	x := mat.NewDense(rows, p+1, nil)
	y := mat.NewVecDense(rows, nil)
	for t := p; t < n; t++ {
		row := t - p
		x.Set(row, 0, 1)
		for l := 1; l <= p; l++ {
			x.Set(row, l, values[t-l])
		}
		y.SetVec(row, values[t])
	}

	var qr mat.QR
	qr.Factorize(x)
	coefs := mat.NewVecDense(p+1, nil)
	if err := qr.SolveVecTo(coefs, false, y); err != nil {
		return nil, fmt.Errorf("least squares solve failed: %w", err)
	}
	out := make([]float64, p+1)
	for i := range out {
		out[i] = coefs.AtVec(i)
	}
	return out, nil
}

// arPredict evaluates the fitted equation against the newest p values.
func arPredict(coefs []float64, values []float64) float64 {
	p := len(coefs) - 1
	yhat := coefs[0]
	n := len(values)
	for l := 1; l <= p; l++ {
		yhat += coefs[l] * values[n-l]
	}
	return yhat
}
