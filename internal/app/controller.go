// Package app wires the controller components into the discrete,
// independently schedulable steps of the model-lifecycle loop: forecast,
// reconcile, monitor, trigger, optimize.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/cache"
	"github.com/forecastops/forecastops/internal/config"
	"github.com/forecastops/forecastops/internal/deploy"
	"github.com/forecastops/forecastops/internal/drift"
	"github.com/forecastops/forecastops/internal/ensemble"
	"github.com/forecastops/forecastops/internal/forecast"
	"github.com/forecastops/forecastops/internal/forecast/runners"
	"github.com/forecastops/forecastops/internal/optimizer"
	"github.com/forecastops/forecastops/internal/perfmon"
	"github.com/forecastops/forecastops/internal/regime"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
	"github.com/forecastops/forecastops/internal/store"
	"github.com/forecastops/forecastops/internal/telemetry"
	"github.com/forecastops/forecastops/internal/tracker"
	"github.com/forecastops/forecastops/internal/trigger"
	"github.com/forecastops/forecastops/internal/validator"
)

// MonitorResult bundles the two monitoring reports of one monitor step.
type MonitorResult struct {
	Performance *perfmon.Report `json:"performance"`
	Drift       *drift.Report   `json:"drift"`
}

// OptimizeResult is the outcome of one optimize step: search, validation,
// and (when approved) deployment.
type OptimizeResult struct {
	Candidate  *optimizer.OptimizedConfig `json:"candidate"`
	Validation *validator.Report          `json:"validation"`
	Deployment *deploy.Report             `json:"deployment,omitempty"`
}

// Controller owns configured component instances and exposes one method
// per schedulable loop step. Steps are invoked by an external scheduler
// (or the bundled one); the controller itself never loops.
type Controller struct {
	cfg      config.Config
	st       store.Store
	trk      *tracker.Tracker
	combiner *ensemble.Combiner
	regimes  *regime.Detector
	drifts   *drift.Detector
	monitor  *perfmon.Monitor
	triggers *trigger.Manager
	deployer *deploy.Manager
	pool     *runners.HandlePool
	actuals  source.ActualSource
	closers  []func() error
}

// New builds a controller from configuration. actualsOverride, when
// non-nil, replaces the configured source (tests and series-backed runs).
func New(cfg config.Config, actualsOverride source.ActualSource) (*Controller, error) {
	c := &Controller{cfg: cfg, combiner: ensemble.New()}

	var err error
	switch cfg.Store.Backend {
	case "", "file":
		c.st, err = store.NewFileStore(cfg.Store.File)
	case "postgres":
		c.st, err = store.NewPostgresStore(cfg.Store.Postgres)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	c.closers = append(c.closers, c.st.Close)

	c.trk = tracker.New(c.st, cfg.Tracker)
	c.regimes = regime.New(cfg.Regime)
	c.drifts = drift.New(cfg.Drift)
	c.monitor = perfmon.New(c.trk, cfg.Perfmon)
	c.triggers = trigger.New(c.monitor, c.drifts, c.st, cfg.Trigger)
	c.deployer = deploy.New(cfg.Deploy, nil)
	c.pool = runners.NewHandlePool(func(variant string) (runners.Backend, error) {
		backendCfg := cfg.Runners.Backend
		if backendCfg.Endpoint == "" {
			return nil, fmt.Errorf("foundation backend endpoint not configured")
		}
		return runners.NewHTTPBackend(backendCfg), nil
	})
	c.closers = append(c.closers, c.pool.Close)

	c.actuals = actualsOverride
	if c.actuals == nil && cfg.Actuals.Backend == "http" {
		c.actuals = source.NewHTTPSource(cfg.Actuals.HTTP)
	}
	if c.actuals != nil && cfg.Cache.Enabled {
		cached := cache.New(c.actuals, cfg.Cache.Redis)
		c.actuals = cached
		c.closers = append(c.closers, cached.Close)
	}
	return c, nil
}

// Close releases store, pool, and cache resources.
func (c *Controller) Close() error {
	var firstErr error
	for _, fn := range c.closers {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tracker exposes the prediction tracker to serving surfaces.
func (c *Controller) Tracker() *tracker.Tracker { return c.trk }

// Deployer exposes the deployment manager to CLI surfaces.
func (c *Controller) Deployer() *deploy.Manager { return c.deployer }

// buildRunners assembles the enabled techniques, applying the deployed
// configuration for the horizon to the foundation runner when one exists.
func (c *Controller) buildRunners(horizon string) ([]forecast.Runner, error) {
	rcfg := c.cfg.Runners
	var out []forecast.Runner
	if rcfg.EnableAR {
		out = append(out, runners.NewARRunner(rcfg.AR))
	}
	if rcfg.EnableVAR {
		out = append(out, runners.NewVARRunner(rcfg.VAR, nil))
	}
	if rcfg.EnableTree {
		out = append(out, runners.NewTreeRunner(rcfg.Tree))
	}
	if rcfg.EnableFoundation {
		params := rcfg.Foundation
		deployed, err := c.deployer.Current(horizon)
		if err != nil {
			log.Warn().Err(err).Str("horizon", horizon).Msg("could not load deployed config, using defaults")
		} else if deployed != nil {
			params.ContextLength = deployed.Params.ContextLength
			params.NumSamples = deployed.Params.NumSamples
			params.Temperature = deployed.Params.Temperature
		}
		out = append(out, runners.NewFoundationRunner(c.pool, params))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no runners enabled")
	}
	return out, nil
}

// Forecast runs every enabled runner in parallel, combines the survivors,
// and logs each horizon point to the tracker. A runner failure drops that
// model from the ensemble; only zero survivors fails the step.
func (c *Controller) Forecast(ctx context.Context, horizon string, s *series.Series) (*forecast.ForecastPackage, error) {
	runnerSet, err := c.buildRunners(horizon)
	if err != nil {
		return nil, err
	}
	steps := c.cfg.ForecastSteps

	type outcome struct {
		result *forecast.ModelResult
		err    error
		name   string
	}
	ch := make(chan outcome, len(runnerSet))
	for _, r := range runnerSet {
		go func(r forecast.Runner) {
			res, err := r.Run(ctx, s, steps)
			ch <- outcome{result: res, err: err, name: r.Name()}
		}(r)
	}

	// Barrier: the combiner waits for every runner before weighting.
	var results []*forecast.ModelResult
	for range runnerSet {
		out := <-ch
		if out.err != nil {
			log.Warn().Err(out.err).Str("model", out.name).Msg("runner failed, dropping from ensemble")
			continue
		}
		results = append(results, out.result)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("forecast: all %d runners failed", len(runnerSet))
	}

	regimeResult := c.regimes.Detect(s)
	weights, err := c.combiner.ComputeWeights(results)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	pkg, err := c.combiner.Combine(results, weights, steps, ensemble.Options{IntervalScale: regimeResult.IntervalScale})
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	forecastDate := s.Last().Date
	for _, pt := range pkg.Points {
		err := c.trk.LogPrediction(ctx, forecastDate, horizon, pt.Date, pt.Mean, pt.CI95Low, pt.CI95High)
		if err != nil {
			return nil, fmt.Errorf("forecast: %w", err)
		}
		telemetry.PredictionsLogged.Inc()
	}
	telemetry.ForecastsIssued.WithLabelValues(horizon).Inc()

	log.Info().Str("horizon", horizon).Int("models", len(results)).
		Str("regime", regimeResult.Regime.String()).
		Str("methodology", pkg.Methodology).Msg("forecast issued")
	return pkg, nil
}

// Reconcile attaches realized values to pending predictions. A non-nil src
// overrides the configured source for this call; long-running schedules pass
// a source rebuilt from the freshly re-read series so actuals that realized
// after startup are visible.
func (c *Controller) Reconcile(ctx context.Context, src source.ActualSource) (int, error) {
	if src == nil {
		src = c.actuals
	}
	if src == nil {
		return 0, fmt.Errorf("reconcile: no actuals source configured")
	}
	updated, err := c.trk.Reconcile(ctx, src, c.cfg.LookbackDays)
	if err != nil {
		return 0, err
	}
	telemetry.RecordsReconciled.Add(float64(updated))
	return updated, nil
}

// Monitor runs the performance check and drift detection for one horizon.
func (c *Controller) Monitor(ctx context.Context, horizon string, s *series.Series) (*MonitorResult, error) {
	perfReport, err := c.monitor.Check(ctx, horizon)
	if err != nil {
		return nil, err
	}
	driftReport := c.drifts.Detect(s)

	telemetry.DriftSeverity.Set(float64(driftReport.Severity))
	telemetry.PerformanceStatus.WithLabelValues(horizon).Set(statusLevel(perfReport.Status))
	return &MonitorResult{Performance: perfReport, Drift: driftReport}, nil
}

// Trigger evaluates whether the horizon warrants re-optimization.
func (c *Controller) Trigger(ctx context.Context, horizon string, s *series.Series) (*trigger.Report, error) {
	report, err := c.triggers.ShouldOptimize(ctx, horizon, s)
	if err != nil {
		return nil, err
	}
	decision := "skip"
	if report.ShouldOptimize {
		decision = "optimize"
	}
	telemetry.TriggerFirings.WithLabelValues(horizon, decision).Inc()
	return report, nil
}

// Optimize runs the search/validate/deploy pipeline. Unlike the monitoring
// steps this may fail loudly: configuration mutation must never be guessed.
func (c *Controller) Optimize(ctx context.Context, horizon string, s *series.Series) (*OptimizeResult, error) {
	if !c.cfg.Runners.EnableFoundation {
		return nil, fmt.Errorf("optimize: foundation runner disabled, nothing to tune")
	}
	factory := c.runnerFactory()

	opt := optimizer.New(c.cfg.Optimizer, factory)
	candidate, err := opt.Optimize(ctx, horizon, s)
	if err != nil {
		return nil, err
	}
	telemetry.OptimizationRuns.WithLabelValues(horizon).Inc()

	current, err := c.deployer.Current(horizon)
	if err != nil {
		return nil, fmt.Errorf("optimize: load current config: %w", err)
	}
	val := validator.New(c.cfg.Validator, factory)
	valReport, err := val.Validate(ctx, candidate, current, s)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	result := &OptimizeResult{Candidate: candidate, Validation: valReport}
	if !valReport.Approved {
		log.Info().Str("horizon", horizon).Strs("failed", valReport.FailedCriteria).
			Msg("candidate rejected, keeping deployed configuration")
		return result, nil
	}

	depReport := c.deployer.Deploy(candidate, horizon)
	result.Deployment = depReport
	outcome := "failure"
	if depReport.Success {
		outcome = "success"
		if err := c.triggers.RecordOptimization(ctx, horizon); err != nil {
			log.Warn().Err(err).Msg("failed to record optimization in history")
		}
	}
	telemetry.Deployments.WithLabelValues(horizon, outcome).Inc()
	if !depReport.Success {
		return result, fmt.Errorf("optimize: deployment failed: %s", depReport.Error)
	}
	return result, nil
}

// runnerFactory builds candidate foundation runners for search/validation.
func (c *Controller) runnerFactory() optimizer.RunnerFactory {
	variant := c.cfg.Runners.Foundation.Variant
	return func(p optimizer.Params) forecast.Runner {
		return runners.NewFoundationRunner(c.pool, runners.FoundationParams{
			Variant:       variant,
			ContextLength: p.ContextLength,
			NumSamples:    p.NumSamples,
			Temperature:   p.Temperature,
		})
	}
}

func statusLevel(s perfmon.Status) float64 {
	switch s {
	case perfmon.StatusExcellent:
		return 1
	case perfmon.StatusGood:
		return 2
	case perfmon.StatusDegraded:
		return 3
	case perfmon.StatusCritical:
		return 4
	default:
		return 0
	}
}
