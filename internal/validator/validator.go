// Package validator A/B-backtests a candidate configuration against the
// currently deployed one on the same held-out window. A candidate replaces
// the baseline only when every criterion passes; rejections record every
// failing criterion, not just the first.
package validator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/optimizer"
	"github.com/forecastops/forecastops/internal/series"
)

// Config tunes the pass/fail thresholds.
type Config struct {
	HoldoutDays        int     `yaml:"holdout_days"`         // default 30
	MinRMSEImprovement float64 `yaml:"min_rmse_improvement"` // %, default 5
	MinMAPEImprovement float64 `yaml:"min_mape_improvement"` // %, default 3
	MaxStdIncreasePct  float64 `yaml:"max_std_increase_pct"` // default 10
	MaxTimeIncreasePct float64 `yaml:"max_time_increase_pct"` // default 50
	MinCoverage95      float64 `yaml:"min_coverage_95"`      // default 0.90
	MaxAbsBias         float64 `yaml:"max_abs_bias"`         // default 2.0, series units
}

// DefaultConfig returns the default validation thresholds.
func DefaultConfig() Config {
	return Config{
		HoldoutDays:        30,
		MinRMSEImprovement: 5,
		MinMAPEImprovement: 3,
		MaxStdIncreasePct:  10,
		MaxTimeIncreasePct: 50,
		MinCoverage95:      0.90,
		MaxAbsBias:         2.0,
	}
}

// CriterionResult is one criterion's verdict, recorded pass or fail.
type CriterionResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Report is the full validation decision.
type Report struct {
	Approved       bool              `json:"approved"`
	AutoApproved   bool              `json:"auto_approved"` // no current config existed
	Criteria       []CriterionResult `json:"criteria"`
	FailedCriteria []string          `json:"failed_criteria,omitempty"`
	ValidatedAt    time.Time         `json:"validated_at"`
}

// backtestRun holds one configuration's held-out scores.
type backtestRun struct {
	rmse, mape, mae float64
	errStd          float64
	coverage95      float64
	bias            float64
	elapsed         time.Duration
}

// Validator compares candidate vs current.
type Validator struct {
	cfg     Config
	factory optimizer.RunnerFactory
}

// New creates a Validator sharing the optimizer's runner factory so both
// sides of the A/B run through identical machinery.
func New(cfg Config, factory optimizer.RunnerFactory) *Validator {
	def := DefaultConfig()
	if cfg.HoldoutDays <= 0 {
		cfg.HoldoutDays = def.HoldoutDays
	}
	if cfg.MinRMSEImprovement <= 0 {
		cfg.MinRMSEImprovement = def.MinRMSEImprovement
	}
	if cfg.MinMAPEImprovement <= 0 {
		cfg.MinMAPEImprovement = def.MinMAPEImprovement
	}
	if cfg.MaxStdIncreasePct <= 0 {
		cfg.MaxStdIncreasePct = def.MaxStdIncreasePct
	}
	if cfg.MaxTimeIncreasePct <= 0 {
		cfg.MaxTimeIncreasePct = def.MaxTimeIncreasePct
	}
	if cfg.MinCoverage95 <= 0 {
		cfg.MinCoverage95 = def.MinCoverage95
	}
	if cfg.MaxAbsBias <= 0 {
		cfg.MaxAbsBias = def.MaxAbsBias
	}
	return &Validator{cfg: cfg, factory: factory}
}

// Validate decides whether candidate may replace current. A nil current
// auto-approves: there is nothing to regress against on first deployment.
func (v *Validator) Validate(ctx context.Context, candidate *optimizer.OptimizedConfig, current *optimizer.OptimizedConfig, s *series.Series) (*Report, error) {
	report := &Report{ValidatedAt: time.Now().UTC()}

	if current == nil {
		report.Approved = true
		report.AutoApproved = true
		report.Criteria = []CriterionResult{{
			Name:   "first_deployment",
			Passed: true,
			Detail: "no current config exists, auto-approving candidate",
		}}
		log.Info().Str("horizon", candidate.Horizon).Msg("validation auto-approved, first deployment")
		return report, nil
	}

	candRun, err := v.backtest(ctx, candidate.Params, s)
	if err != nil {
		return nil, fmt.Errorf("candidate backtest: %w", err)
	}
	currRun, err := v.backtest(ctx, current.Params, s)
	if err != nil {
		return nil, fmt.Errorf("current-config backtest: %w", err)
	}

	rmseImp := pctImprovement(currRun.rmse, candRun.rmse)
	mapeImp := pctImprovement(currRun.mape, candRun.mape)
	stdIncrease := pctIncrease(currRun.errStd, candRun.errStd)
	timeIncrease := pctIncrease(float64(currRun.elapsed), float64(candRun.elapsed))

	report.Criteria = []CriterionResult{
		{
			Name:   "accuracy_improvement",
			Passed: rmseImp >= v.cfg.MinRMSEImprovement || mapeImp >= v.cfg.MinMAPEImprovement,
			Detail: fmt.Sprintf("RMSE improved %.1f%% (need %.1f%%) or MAPE improved %.1f%% (need %.1f%%)",
				rmseImp, v.cfg.MinRMSEImprovement, mapeImp, v.cfg.MinMAPEImprovement),
		},
		{
			Name:   "error_stability",
			Passed: stdIncrease <= v.cfg.MaxStdIncreasePct,
			Detail: fmt.Sprintf("error std changed %+.1f%% (max +%.1f%%)", stdIncrease, v.cfg.MaxStdIncreasePct),
		},
		{
			Name:   "compute_time",
			Passed: timeIncrease <= v.cfg.MaxTimeIncreasePct,
			Detail: fmt.Sprintf("inference time changed %+.1f%% (max +%.1f%%)", timeIncrease, v.cfg.MaxTimeIncreasePct),
		},
		{
			Name:   "interval_coverage",
			Passed: candRun.coverage95 >= v.cfg.MinCoverage95,
			Detail: fmt.Sprintf("95%% interval coverage %.2f (min %.2f)", candRun.coverage95, v.cfg.MinCoverage95),
		},
		{
			Name:   "bias_ceiling",
			Passed: math.Abs(candRun.bias) <= v.cfg.MaxAbsBias,
			Detail: fmt.Sprintf("absolute bias %.4f (ceiling %.4f)", math.Abs(candRun.bias), v.cfg.MaxAbsBias),
		},
	}

	report.Approved = true
	for _, c := range report.Criteria {
		if !c.Passed {
			report.Approved = false
			report.FailedCriteria = append(report.FailedCriteria, c.Name)
		}
	}

	log.Info().Str("horizon", candidate.Horizon).Bool("approved", report.Approved).
		Strs("failed", report.FailedCriteria).Msg("validation decision")
	return report, nil
}

// backtest scores one parameter set on the shared held-out window.
func (v *Validator) backtest(ctx context.Context, p optimizer.Params, s *series.Series) (*backtestRun, error) {
	holdout := v.cfg.HoldoutDays
	if s.Len() < p.ContextLength+holdout {
		return nil, fmt.Errorf("insufficient history: %d points for context %d + holdout %d",
			s.Len(), p.ContextLength, holdout)
	}
	train, test := s.SplitTail(holdout)

	runner := v.factory(p)
	start := time.Now()
	result, err := runner.Run(ctx, train, holdout)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if len(result.Package.Points) < holdout {
		return nil, fmt.Errorf("runner returned %d points, need %d", len(result.Package.Points), holdout)
	}

	actual := test.Values()
	predicted := make([]float64, holdout)
	lows := make([]float64, holdout)
	highs := make([]float64, holdout)
	errs := make([]float64, holdout)
	for i := 0; i < holdout; i++ {
		pt := result.Package.Points[i]
		predicted[i] = pt.Mean
		lows[i] = pt.CI95Low
		highs[i] = pt.CI95High
		errs[i] = pt.Mean - actual[i]
	}

	run := &backtestRun{elapsed: elapsed, errStd: metrics.Std(errs)}
	run.rmse, _ = metrics.RMSE(actual, predicted)
	run.mae, _ = metrics.MAE(actual, predicted)
	if mape, err := metrics.MAPE(actual, predicted); err == nil {
		run.mape = mape
	}
	run.coverage95, _ = metrics.Coverage(actual, lows, highs)
	run.bias, _ = metrics.Bias(actual, predicted)
	return run, nil
}

// pctImprovement is positive when candidate beats baseline (lower is better).
func pctImprovement(baseline, candidate float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - candidate) / baseline * 100
}

// pctIncrease is positive when candidate grew versus baseline.
func pctIncrease(baseline, candidate float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (candidate - baseline) / baseline * 100
}
