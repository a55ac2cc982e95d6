package runners

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/series"
)

// FoundationParams are the tunable hyperparameters of the foundation-model
// runner. These three dimensions form the optimizer's search space.
type FoundationParams struct {
	Variant       string  `json:"variant" yaml:"variant"`
	ContextLength int     `json:"context_length" yaml:"context_length"`
	NumSamples    int     `json:"num_samples" yaml:"num_samples"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
}

// DefaultFoundationParams returns the stock hyperparameters used before any
// optimization has run.
func DefaultFoundationParams() FoundationParams {
	return FoundationParams{Variant: "base", ContextLength: 256, NumSamples: 100, Temperature: 1.0}
}

// FoundationRunner forecasts with a pretrained foundation model via a
// pooled backend handle. Point forecasts and bands come from sampled
// trajectories; in-sample error comes from a one-window holdout replay.
type FoundationRunner struct {
	pool   *HandlePool
	params FoundationParams
}

// NewFoundationRunner creates a foundation-model runner with the given
// hyperparameters.
func NewFoundationRunner(pool *HandlePool, params FoundationParams) *FoundationRunner {
	if params.Variant == "" {
		params.Variant = "base"
	}
	if params.ContextLength <= 0 {
		params.ContextLength = 256
	}
	if params.NumSamples <= 0 {
		params.NumSamples = 100
	}
	if params.Temperature <= 0 {
		params.Temperature = 1.0
	}
	return &FoundationRunner{pool: pool, params: params}
}

func (r *FoundationRunner) Name() string { return "foundation" }

// Params returns the runner's hyperparameters.
func (r *FoundationRunner) Params() FoundationParams { return r.params }

// Run samples forecast trajectories from the backend and summarizes them.
func (r *FoundationRunner) Run(ctx context.Context, history *series.Series, steps int) (*forecast.ModelResult, error) {
	if history.Len() < r.params.ContextLength {
		return nil, fmt.Errorf("foundation runner: %w (have %d points, context length %d)",
			forecast.ErrInsufficientHistory, history.Len(), r.params.ContextLength)
	}

	handle, err := r.pool.Acquire(r.params.Variant)
	if err != nil {
		return nil, fmt.Errorf("foundation runner: %w", err)
	}
	defer handle.Release()

	means, stds, err := r.sample(ctx, handle.Backend(), history, steps)
	if err != nil {
		return nil, err
	}

	// Holdout replay for a genuine fit-quality estimate: forecast the last
	// `steps` observations from the history before them.
	rmse, mape := 0.0, 0.0
	if history.Len() >= r.params.ContextLength+steps {
		head, tail := history.SplitTail(steps)
		replayMeans, _, replayErr := r.sample(ctx, handle.Backend(), head, steps)
		if replayErr != nil {
			log.Warn().Err(replayErr).Msg("foundation holdout replay failed, in-sample error unavailable")
		} else {
			rmse, mape = fitMetrics(tail.Values(), replayMeans)
		}
	}

	residVol := 0.0
	if len(stds) > 0 {
		residVol = stds[0]
	}
	return &forecast.ModelResult{
		Name: r.Name(),
		Package: forecast.ForecastPackage{
			Points:       buildPoints(history, means, stds),
			Methodology:  fmt.Sprintf("pretrained foundation model (%s)", r.params.Variant),
			ErrorMetrics: map[string]float64{"rmse": rmse, "mape": mape},
			ResidualVol:  residVol,
			GeneratedAt:  time.Now().UTC(),
		},
		RMSE: rmse,
		MAPE: mape,
		Meta: map[string]any{
			"variant":        r.params.Variant,
			"context_length": r.params.ContextLength,
			"num_samples":    r.params.NumSamples,
			"temperature":    r.params.Temperature,
		},
	}, nil
}

// sample requests trajectories and reduces them to per-step mean/std.
func (r *FoundationRunner) sample(ctx context.Context, backend Backend, history *series.Series, steps int) ([]float64, []float64, error) {
	contextVals := history.Tail(r.params.ContextLength).Values()
	resp, err := backend.Forecast(ctx, &ForecastRequest{
		Variant:     r.params.Variant,
		Context:     contextVals,
		Steps:       steps,
		NumSamples:  r.params.NumSamples,
		Temperature: r.params.Temperature,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("foundation runner: %w", err)
	}
	if len(resp.Samples) == 0 {
		return nil, nil, fmt.Errorf("foundation runner: %w: empty sample set", ErrBackendUnavailable)
	}
	for i, s := range resp.Samples {
		if len(s) != steps {
			return nil, nil, fmt.Errorf("foundation runner: %w: sample %d has %d steps, want %d",
				ErrBackendUnavailable, i, len(s), steps)
		}
	}

	means := make([]float64, steps)
	stds := make([]float64, steps)
	col := make([]float64, len(resp.Samples))
	for step := 0; step < steps; step++ {
		for i, s := range resp.Samples {
			col[i] = s[step]
		}
		means[step] = metrics.Mean(col)
		stds[step] = metrics.Std(col)
		if len(resp.Samples) == 1 {
			stds[step] = math.Abs(means[step]) * 0.01 // single sample carries no spread
		}
	}
	return means, stds, nil
}
