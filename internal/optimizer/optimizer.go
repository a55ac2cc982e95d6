// Package optimizer searches the foundation-runner hyperparameter space by
// walk-forward backtesting: every candidate is scored on a held-out window
// it never saw during "training", so search cannot overfit the present.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/progress"
	"github.com/forecastops/forecastops/internal/series"
)

// ErrNoValidCandidate is fatal for an optimize call: the search space held
// nothing that could be backtested against the available history.
var ErrNoValidCandidate = errors.New("optimizer found no valid candidate")

// Mode selects the search strategy.
type Mode string

const (
	ModeGrid   Mode = "grid"
	ModeRandom Mode = "random"
)

// Params is one point in the 3-dimensional search space.
type Params struct {
	ContextLength int     `json:"context_length" yaml:"context_length"`
	NumSamples    int     `json:"num_samples" yaml:"num_samples"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
}

// SearchSpace bounds the sweep.
type SearchSpace struct {
	ContextLengths []int     `yaml:"context_lengths"`
	SampleCounts   []int     `yaml:"sample_counts"`
	Temperatures   []float64 `yaml:"temperatures"`
}

// DefaultSearchSpace returns the stock sweep bounds.
func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		ContextLengths: []int{64, 128, 256, 512},
		SampleCounts:   []int{50, 100, 250},
		Temperatures:   []float64{0.5, 0.8, 1.0, 1.2},
	}
}

// Config tunes the search.
type Config struct {
	Mode             Mode        `yaml:"mode"`              // default grid
	MaxIterations    int         `yaml:"max_iterations"`    // random-mode cap (default 20)
	ValidationWindow int         `yaml:"validation_window"` // held-out days (default 30)
	Seed             int64       `yaml:"seed"`              // random-mode seed (0 = time-based)
	Space            SearchSpace `yaml:"space"`
}

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() Config {
	return Config{Mode: ModeGrid, MaxIterations: 20, ValidationWindow: 30, Space: DefaultSearchSpace()}
}

// OptimizedConfig is the winning candidate plus its validation scores.
// Candidate state only: it carries no authority until the validator and
// deployment manager accept it.
type OptimizedConfig struct {
	Horizon        string    `json:"horizon"`
	Params         Params    `json:"params"`
	ValidationRMSE float64   `json:"validation_rmse"`
	ValidationMAPE float64   `json:"validation_mape"`
	ValidationMAE  float64   `json:"validation_mae"`
	Iterations     int       `json:"iterations"`
	RunID          string    `json:"run_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunnerFactory builds a forecast runner for a candidate's hyperparameters.
type RunnerFactory func(p Params) forecast.Runner

// Optimizer runs the search.
type Optimizer struct {
	cfg     Config
	factory RunnerFactory
}

// New creates an Optimizer. The factory decouples the search from the
// foundation runner so tests can plug in cheap synthetic runners.
func New(cfg Config, factory RunnerFactory) *Optimizer {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ValidationWindow <= 0 {
		cfg.ValidationWindow = def.ValidationWindow
	}
	// Each dimension defaults independently: a space that only pins one
	// dimension must not leave another empty (random mode draws from every
	// dimension on each iteration).
	if len(cfg.Space.ContextLengths) == 0 {
		cfg.Space.ContextLengths = def.Space.ContextLengths
	}
	if len(cfg.Space.SampleCounts) == 0 {
		cfg.Space.SampleCounts = def.Space.SampleCounts
	}
	if len(cfg.Space.Temperatures) == 0 {
		cfg.Space.Temperatures = def.Space.Temperatures
	}
	return &Optimizer{cfg: cfg, factory: factory}
}

// Optimize searches the space and returns the best candidate by validation
// RMSE, ties broken by insertion order (first found wins). A candidate that
// cannot be backtested scores +Inf and is never selected; zero scoreable
// candidates is a fatal error for the call.
func (o *Optimizer) Optimize(ctx context.Context, horizon string, s *series.Series) (*OptimizedConfig, error) {
	candidates := o.candidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: empty search space", ErrNoValidCandidate)
	}

	runID := uuid.NewString()
	ind := progress.New("hyperparameter-search-"+horizon, len(candidates))

	best := (*OptimizedConfig)(nil)
	bestScore := math.Inf(1)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := o.scoreCandidate(ctx, cand, s)
		ind.Increment()
		// Strict less keeps the first-found winner on ties.
		if score.rmse < bestScore {
			bestScore = score.rmse
			best = &OptimizedConfig{
				Horizon:        horizon,
				Params:         cand,
				ValidationRMSE: score.rmse,
				ValidationMAPE: score.mape,
				ValidationMAE:  score.mae,
			}
		}
	}
	ind.Done()

	if best == nil || math.IsInf(bestScore, 1) {
		return nil, fmt.Errorf("%w: %d candidates, none backtestable with %d points of history",
			ErrNoValidCandidate, len(candidates), s.Len())
	}
	best.Iterations = len(candidates)
	best.RunID = runID
	best.CreatedAt = time.Now().UTC()

	log.Info().Str("horizon", horizon).Str("run_id", runID).
		Int("iterations", best.Iterations).
		Float64("rmse", best.ValidationRMSE).
		Interface("params", best.Params).
		Msg("hyperparameter search complete")
	return best, nil
}

type candidateScore struct {
	rmse, mape, mae float64
}

// scoreCandidate walk-forward backtests one candidate: hold out the final
// validation window, forecast it from the preceding history, score against
// the held-out actuals. Any failure (insufficient history, backend error)
// makes the candidate unusable (+Inf) without sinking the sweep.
func (o *Optimizer) scoreCandidate(ctx context.Context, p Params, s *series.Series) candidateScore {
	unusable := candidateScore{rmse: math.Inf(1), mape: math.Inf(1), mae: math.Inf(1)}

	holdout := o.cfg.ValidationWindow
	if s.Len() < p.ContextLength+holdout {
		return unusable
	}
	train, test := s.SplitTail(holdout)

	runner := o.factory(p)
	result, err := runner.Run(ctx, train, holdout)
	if err != nil {
		log.Debug().Err(err).Interface("params", p).Msg("candidate backtest failed")
		return unusable
	}
	if len(result.Package.Points) < holdout {
		return unusable
	}

	predicted := make([]float64, holdout)
	for i := 0; i < holdout; i++ {
		predicted[i] = result.Package.Points[i].Mean
	}
	actual := test.Values()

	rmse, err := metrics.RMSE(actual, predicted)
	if err != nil {
		return unusable
	}
	mae, _ := metrics.MAE(actual, predicted)
	mape, mapeErr := metrics.MAPE(actual, predicted)
	if mapeErr != nil {
		mape = 0
	}
	return candidateScore{rmse: rmse, mape: mape, mae: mae}
}

// candidates enumerates the sweep: the full Cartesian product in grid mode,
// or up to MaxIterations seeded draws in random mode.
func (o *Optimizer) candidates() []Params {
	space := o.cfg.Space
	if o.cfg.Mode == ModeRandom {
		seed := o.cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		out := make([]Params, 0, o.cfg.MaxIterations)
		for i := 0; i < o.cfg.MaxIterations; i++ {
			out = append(out, Params{
				ContextLength: space.ContextLengths[rng.Intn(len(space.ContextLengths))],
				NumSamples:    space.SampleCounts[rng.Intn(len(space.SampleCounts))],
				Temperature:   space.Temperatures[rng.Intn(len(space.Temperatures))],
			})
		}
		return out
	}

	out := make([]Params, 0, len(space.ContextLengths)*len(space.SampleCounts)*len(space.Temperatures))
	for _, cl := range space.ContextLengths {
		for _, ns := range space.SampleCounts {
			for _, temp := range space.Temperatures {
				out = append(out, Params{ContextLength: cl, NumSamples: ns, Temperature: temp})
			}
		}
	}
	return out
}
