// Package perfmon compares recent out-of-sample forecast error against a
// historical baseline and grades the degradation. Like the drift detector it
// degrades gracefully: whenever the data cannot answer the question the
// verdict is "insufficient data", never a raised error.
package perfmon

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/stats"
	"github.com/forecastops/forecastops/internal/tracker"
)

// Status grades the recent-vs-baseline comparison.
type Status string

const (
	StatusInsufficientData Status = "insufficient_data"
	StatusExcellent        Status = "excellent"
	StatusGood             Status = "good"
	StatusDegraded         Status = "degraded"
	StatusCritical         Status = "critical"
)

// Config tunes windows, sample requirements, and thresholds.
type Config struct {
	BaselineDays      int     `yaml:"baseline_days"`      // default 60
	RecentDays        int     `yaml:"recent_days"`        // default 14
	MinBaselineCount  int     `yaml:"min_baseline_count"` // default 10
	MinRecentCount    int     `yaml:"min_recent_count"`   // default 5
	DegradedPct       float64 `yaml:"degraded_pct"`       // default 15 (% increase)
	CriticalPct       float64 `yaml:"critical_pct"`       // default 30
	DegradedAlpha     float64 `yaml:"degraded_alpha"`     // default 0.05
	CriticalAlpha     float64 `yaml:"critical_alpha"`     // default 0.01
	ImprovementPct    float64 `yaml:"improvement_pct"`    // default 5 (% decrease for excellent)
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		BaselineDays:     60,
		RecentDays:       14,
		MinBaselineCount: 10,
		MinRecentCount:   5,
		DegradedPct:      15,
		CriticalPct:      30,
		DegradedAlpha:    0.05,
		CriticalAlpha:    0.01,
		ImprovementPct:   5,
	}
}

// MetricComparison is one metric's recent-vs-baseline outcome.
type MetricComparison struct {
	Metric    string  `json:"metric"`
	Baseline  float64 `json:"baseline"`
	Recent    float64 `json:"recent"`
	PctChange float64 `json:"pct_change"` // positive = worse
	PValue    float64 `json:"p_value"`
	Degraded  bool    `json:"degraded"`
	Critical  bool    `json:"critical"`
}

// Baseline is the rolling statistical summary of historical error. It is
// recomputed from scratch on every run so the baseline itself cannot drift.
type Baseline struct {
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	SampleCount int       `json:"sample_count"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
}

// Report is the monitoring verdict for one horizon.
type Report struct {
	Horizon        string             `json:"horizon"`
	Status         Status             `json:"status"`
	Comparisons    []MetricComparison `json:"comparisons"`
	Baseline       Baseline           `json:"baseline"`
	BaselineCount  int                `json:"baseline_count"`
	RecentCount    int                `json:"recent_count"`
	WorstPctChange float64            `json:"worst_pct_change"`
	RunAt          time.Time          `json:"run_at"`
}

// Degraded reports whether the verdict calls for attention.
func (r *Report) Degraded() bool {
	return r.Status == StatusDegraded || r.Status == StatusCritical
}

// RMSEDegradationPct returns the RMSE percentage change (0 when absent).
func (r *Report) RMSEDegradationPct() float64 {
	for _, c := range r.Comparisons {
		if c.Metric == "rmse" {
			return c.PctChange
		}
	}
	return 0
}

// Monitor grades forecast-error degradation from tracker records.
type Monitor struct {
	cfg Config
	trk *tracker.Tracker
	now func() time.Time
}

// New creates a Monitor over the tracker.
func New(trk *tracker.Tracker, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.BaselineDays <= 0 {
		cfg.BaselineDays = def.BaselineDays
	}
	if cfg.RecentDays <= 0 {
		cfg.RecentDays = def.RecentDays
	}
	if cfg.MinBaselineCount <= 0 {
		cfg.MinBaselineCount = def.MinBaselineCount
	}
	if cfg.MinRecentCount <= 0 {
		cfg.MinRecentCount = def.MinRecentCount
	}
	if cfg.DegradedPct <= 0 {
		cfg.DegradedPct = def.DegradedPct
	}
	if cfg.CriticalPct <= 0 {
		cfg.CriticalPct = def.CriticalPct
	}
	if cfg.DegradedAlpha <= 0 {
		cfg.DegradedAlpha = def.DegradedAlpha
	}
	if cfg.CriticalAlpha <= 0 {
		cfg.CriticalAlpha = def.CriticalAlpha
	}
	if cfg.ImprovementPct <= 0 {
		cfg.ImprovementPct = def.ImprovementPct
	}
	return &Monitor{cfg: cfg, trk: trk, now: time.Now}
}

// SetClock overrides the time source (tests).
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Check splits reconciled records into baseline and recent periods and
// compares RMSE, MAE, and MAPE independently. Significance comes from a
// one-sided Mann-Whitney U test on the error samples with alternative
// "recent greater than baseline", which stays honest under outlier errors.
func (m *Monitor) Check(ctx context.Context, horizon string) (*Report, error) {
	report := &Report{Horizon: horizon, Status: StatusInsufficientData, RunAt: m.now().UTC()}

	records, err := m.trk.Records(ctx, horizon, m.cfg.BaselineDays+m.cfg.RecentDays)
	if err != nil {
		// Monitoring never raises: an unreadable store is an unknown, and
		// unknowns are conservative no-ops.
		log.Warn().Err(err).Str("horizon", horizon).Msg("performance check could not read records")
		return report, nil
	}

	recentCutoff := m.now().UTC().AddDate(0, 0, -m.cfg.RecentDays)
	var baseAbs, baseAct, basePred, basePct []float64
	var recAbs, recAct, recPred, recPct []float64
	var baseFrom, baseTo time.Time
	for _, rec := range records {
		if rec.ActualValue == nil {
			continue
		}
		absErr := math.Abs(rec.PredictedMean - *rec.ActualValue)
		pct := 0.0
		if rec.PctError != nil {
			pct = *rec.PctError
		}
		if rec.TargetDate.Before(recentCutoff) {
			baseAbs = append(baseAbs, absErr)
			baseAct = append(baseAct, *rec.ActualValue)
			basePred = append(basePred, rec.PredictedMean)
			basePct = append(basePct, pct)
			if baseFrom.IsZero() || rec.TargetDate.Before(baseFrom) {
				baseFrom = rec.TargetDate
			}
			if rec.TargetDate.After(baseTo) {
				baseTo = rec.TargetDate
			}
		} else {
			recAbs = append(recAbs, absErr)
			recAct = append(recAct, *rec.ActualValue)
			recPred = append(recPred, rec.PredictedMean)
			recPct = append(recPct, pct)
		}
	}

	report.BaselineCount = len(baseAbs)
	report.RecentCount = len(recAbs)
	if len(baseAbs) < m.cfg.MinBaselineCount || len(recAbs) < m.cfg.MinRecentCount {
		log.Debug().Str("horizon", horizon).
			Int("baseline", len(baseAbs)).Int("recent", len(recAbs)).
			Msg("performance check skipped, not enough reconciled samples")
		return report, nil
	}

	report.Baseline = Baseline{
		Mean:        metrics.Mean(baseAbs),
		Std:         metrics.Std(baseAbs),
		SampleCount: len(baseAbs),
		From:        baseFrom,
		To:          baseTo,
	}

	baseRMSE, _ := metrics.RMSE(baseAct, basePred)
	recRMSE, _ := metrics.RMSE(recAct, recPred)
	baseMAE, _ := metrics.MAE(baseAct, basePred)
	recMAE, _ := metrics.MAE(recAct, recPred)
	baseMAPE := metrics.Mean(basePct)
	recMAPE := metrics.Mean(recPct)

	comparisons := []MetricComparison{
		m.compare("rmse", baseRMSE, recRMSE, recAbs, baseAbs),
		m.compare("mae", baseMAE, recMAE, recAbs, baseAbs),
		m.compare("mape", baseMAPE, recMAPE, recPct, basePct),
	}
	report.Comparisons = comparisons

	anyCritical := false
	anyDegraded := false
	allImproved := true
	worst := math.Inf(-1)
	for _, c := range comparisons {
		if c.Critical {
			anyCritical = true
		}
		if c.Degraded {
			anyDegraded = true
		}
		if c.PctChange > -m.cfg.ImprovementPct {
			allImproved = false
		}
		if c.PctChange > worst {
			worst = c.PctChange
		}
	}
	report.WorstPctChange = worst

	switch {
	case anyCritical:
		report.Status = StatusCritical
	case anyDegraded:
		report.Status = StatusDegraded
	case allImproved:
		report.Status = StatusExcellent
	default:
		report.Status = StatusGood
	}

	log.Info().Str("horizon", horizon).Str("status", string(report.Status)).
		Float64("worst_pct_change", worst).Msg("performance check complete")
	return report, nil
}

// compare builds one metric comparison. recentSamples/baselineSamples feed
// the Mann-Whitney test in "recent greater" orientation.
func (m *Monitor) compare(name string, baseline, recent float64, recentSamples, baselineSamples []float64) MetricComparison {
	c := MetricComparison{Metric: name, Baseline: baseline, Recent: recent, PValue: 1}
	if baseline > 0 {
		c.PctChange = (recent - baseline) / baseline * 100
	}
	mw := stats.MannWhitneyU(recentSamples, baselineSamples, m.cfg.DegradedAlpha)
	c.PValue = mw.PValue
	c.Critical = c.PctChange > m.cfg.CriticalPct && mw.PValue < m.cfg.CriticalAlpha
	c.Degraded = c.PctChange > m.cfg.DegradedPct && mw.PValue < m.cfg.DegradedAlpha
	return c
}
