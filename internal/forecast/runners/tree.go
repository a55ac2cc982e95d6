package runners

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/series"
)

// TreeConfig configures the gradient-boosted tree runner.
type TreeConfig struct {
	Rounds       int     `yaml:"rounds"`        // boosting rounds (default 100)
	LearningRate float64 `yaml:"learning_rate"` // shrinkage (default 0.1)
	Lags         int     `yaml:"lags"`          // lag features (default 5)
	MinLeaf      int     `yaml:"min_leaf"`      // minimum samples per leaf (default 5)
}

// DefaultTreeConfig returns the default tree runner configuration.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{Rounds: 100, LearningRate: 0.1, Lags: 5, MinLeaf: 5}
}

// stump is a single depth-1 regression tree.
type stump struct {
	feature   int
	threshold float64
	left      float64 // prediction when feature <= threshold
	right     float64
}

// TreeRunner forecasts with gradient-boosted regression stumps over lag and
// rolling-window features. Multi-step forecasts are produced recursively,
// feeding each prediction back into the feature window.
type TreeRunner struct {
	cfg TreeConfig
}

// NewTreeRunner creates a tree-ensemble runner.
func NewTreeRunner(cfg TreeConfig) *TreeRunner {
	if cfg.Rounds <= 0 {
		cfg.Rounds = 100
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = 0.1
	}
	if cfg.Lags <= 0 {
		cfg.Lags = 5
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 5
	}
	return &TreeRunner{cfg: cfg}
}

func (r *TreeRunner) Name() string { return "tree_ensemble" }

// featureWindow is the number of trailing values a feature row needs.
func (r *TreeRunner) featureWindow() int {
	w := r.cfg.Lags
	if w < 6 {
		w = 6 // momentum feature reaches back 6 steps
	}
	return w
}

// Run fits the ensemble and forecasts steps ahead.
func (r *TreeRunner) Run(ctx context.Context, history *series.Series, steps int) (*forecast.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := history.Values()
	w := r.featureWindow()
	n := len(values)
	if n < w+2*r.cfg.MinLeaf+5 {
		return nil, fmt.Errorf("tree runner: %w (have %d points, need %d)", forecast.ErrInsufficientHistory, n, w+2*r.cfg.MinLeaf+5)
	}

	// Training set: one row per predictable index.
	features := make([][]float64, 0, n-w)
	targets := make([]float64, 0, n-w)
	for t := w; t < n; t++ {
		features = append(features, r.featureRow(values[:t]))
		targets = append(targets, values[t])
	}

	base := metrics.Mean(targets)
	ensemble := make([]stump, 0, r.cfg.Rounds)
	preds := make([]float64, len(targets))
	for i := range preds {
		preds[i] = base
	}
	residuals := make([]float64, len(targets))

	for round := 0; round < r.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range targets {
			residuals[i] = targets[i] - preds[i]
		}
		st, ok := r.fitStump(features, residuals)
		if !ok {
			break
		}
		ensemble = append(ensemble, st)
		for i, row := range features {
			preds[i] += r.cfg.LearningRate * st.predict(row)
		}
	}

	residStd := residualStd(targets, preds)

	// Recursive forecast.
	extended := append([]float64(nil), values...)
	means := make([]float64, steps)
	stds := make([]float64, steps)
	for h := 0; h < steps; h++ {
		yhat := base
		row := r.featureRow(extended)
		for _, st := range ensemble {
			yhat += r.cfg.LearningRate * st.predict(row)
		}
		extended = append(extended, yhat)
		means[h] = yhat
		stds[h] = residStd * math.Sqrt(float64(h+1))
	}

	rmse, mape := fitMetrics(targets, preds)
	return &forecast.ModelResult{
		Name: r.Name(),
		Package: forecast.ForecastPackage{
			Points:       buildPoints(history, means, stds),
			Methodology:  fmt.Sprintf("gradient-boosted stumps (%d rounds)", len(ensemble)),
			ErrorMetrics: map[string]float64{"rmse": rmse, "mape": mape},
			ResidualVol:  residStd,
			GeneratedAt:  time.Now().UTC(),
		},
		RMSE: rmse,
		MAPE: mape,
		Meta: map[string]any{"rounds": len(ensemble), "learning_rate": r.cfg.LearningRate, "lags": r.cfg.Lags},
	}, nil
}

// featureRow builds the feature vector from the trailing values: lags 1..L,
// 5-step rolling mean and std, and 6-step momentum.
func (r *TreeRunner) featureRow(values []float64) []float64 {
	n := len(values)
	row := make([]float64, 0, r.cfg.Lags+3)
	for l := 1; l <= r.cfg.Lags; l++ {
		row = append(row, values[n-l])
	}
	window := values[n-5:]
	row = append(row, metrics.Mean(window))
	row = append(row, metrics.Std(window))
	row = append(row, values[n-1]-values[n-6])
	return row
}

// fitStump finds the single split minimizing squared error on residuals.
// Candidate thresholds are the deciles of each feature, keeping the search
// cheap on long histories.
func (r *TreeRunner) fitStump(features [][]float64, residuals []float64) (stump, bool) {
	nFeatures := len(features[0])
	best := stump{}
	bestGain := 0.0
	found := false

	totalSum := 0.0
	for _, v := range residuals {
		totalSum += v
	}
	nTotal := float64(len(residuals))

	col := make([]float64, len(features))
	for f := 0; f < nFeatures; f++ {
		for i, row := range features {
			col[i] = row[f]
		}
		for _, th := range decileThresholds(col) {
			leftSum, leftN := 0.0, 0.0
			for i, v := range col {
				if v <= th {
					leftSum += residuals[i]
					leftN++
				}
			}
			rightN := nTotal - leftN
			if leftN < float64(r.cfg.MinLeaf) || rightN < float64(r.cfg.MinLeaf) {
				continue
			}
			rightSum := totalSum - leftSum
			// Variance-reduction gain of the split.
			gain := leftSum*leftSum/leftN + rightSum*rightSum/rightN - totalSum*totalSum/nTotal
			if gain > bestGain {
				bestGain = gain
				best = stump{
					feature:   f,
					threshold: th,
					left:      leftSum / leftN,
					right:     rightSum / rightN,
				}
				found = true
			}
		}
	}
	return best, found
}

func (s stump) predict(row []float64) float64 {
	if row[s.feature] <= s.threshold {
		return s.left
	}
	return s.right
}

// decileThresholds returns up to 9 interior decile values of xs.
func decileThresholds(xs []float64) []float64 {
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	out := make([]float64, 0, 9)
	for d := 1; d <= 9; d++ {
		idx := d * len(cp) / 10
		if idx >= len(cp) {
			idx = len(cp) - 1
		}
		v := cp[idx]
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
