// Package drift detects statistically significant change between an older
// baseline window and the newest window of the input series. Detection is a
// monitoring concern: every degenerate input maps to a conservative
// "no drift" report rather than an error, so the control loop never halts
// on a bad observation window.
package drift

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/stats"
)

// Severity grades how much of the test battery fired.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// MarshalYAML renders the severity name.
func (s Severity) MarshalYAML() (any, error) { return s.String(), nil }

// UnmarshalYAML accepts a severity name.
func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "", "none":
		*s = SeverityNone
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown drift severity %q", name)
	}
	return nil
}

// Status distinguishes a real verdict from an unanswerable one.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

// Config tunes window sizes and thresholds.
type Config struct {
	BaselineWindow int     `yaml:"baseline_window"` // B, default 60
	RecentWindow   int     `yaml:"recent_window"`   // R, default 30
	Alpha          float64 `yaml:"alpha"`           // per-test significance, default 0.05
	VolRatioBound  float64 `yaml:"vol_ratio_bound"` // default 1.5: flag outside [1/bound, bound]
}

// DefaultConfig returns the default drift configuration.
func DefaultConfig() Config {
	return Config{BaselineWindow: 60, RecentWindow: 30, Alpha: 0.05, VolRatioBound: 1.5}
}

// Report is the outcome of one detection run. Severity is derived from the
// test battery on every run, never persisted as state.
type Report struct {
	Status          Status             `json:"status"`
	DriftDetected   bool               `json:"drift_detected"`
	Severity        Severity           `json:"severity"`
	Tests           []stats.TestResult `json:"tests"`
	VolatilityRatio float64            `json:"volatility_ratio"`
	VolRatioFlagged bool               `json:"vol_ratio_flagged"`
	BaselineSize    int                `json:"baseline_size"`
	RecentSize      int                `json:"recent_size"`
	RunAt           time.Time          `json:"run_at"`
}

// Detector runs the four-test battery plus the volatility-ratio check.
type Detector struct {
	cfg Config
}

// New creates a Detector.
func New(cfg Config) *Detector {
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 60
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 30
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = 0.05
	}
	if cfg.VolRatioBound <= 1 {
		cfg.VolRatioBound = 1.5
	}
	return &Detector{cfg: cfg}
}

// Detect compares the baseline window against the recent window.
func (d *Detector) Detect(s *series.Series) *Report {
	report := &Report{Status: StatusOK, Severity: SeverityNone, RunAt: time.Now().UTC()}

	need := d.cfg.BaselineWindow + d.cfg.RecentWindow
	if s == nil || s.Len() < need {
		have := 0
		if s != nil {
			have = s.Len()
		}
		log.Debug().Int("have", have).Int("need", need).Msg("drift detection skipped, not enough history")
		report.Status = StatusInsufficientData
		return report
	}

	older, recent := s.SplitTail(d.cfg.RecentWindow)
	baseline := older.Tail(d.cfg.BaselineWindow)
	report.BaselineSize = baseline.Len()
	report.RecentSize = recent.Len()

	baseVals := baseline.Values()
	recentVals := recent.Values()

	report.Tests = []stats.TestResult{
		stats.KolmogorovSmirnov(baseVals, recentVals, d.cfg.Alpha),
		stats.WelchT(baseVals, recentVals, d.cfg.Alpha),
		stats.Levene(baseVals, recentVals, d.cfg.Alpha),
		d.ljungBoxDivergence(baseline, recent),
	}

	report.VolatilityRatio, report.VolRatioFlagged = d.volRatio(baseline, recent)

	failing := 0
	minP := 1.0
	for _, tr := range report.Tests {
		if tr.Significant {
			failing++
		}
		if tr.PValue < minP {
			minP = tr.PValue
		}
	}

	report.DriftDetected = failing > 0 || report.VolRatioFlagged
	switch {
	case failing >= 3 || minP < 0.001:
		report.Severity = SeverityHigh
	case failing == 2 || minP < 0.01:
		report.Severity = SeverityMedium
	case failing == 1:
		report.Severity = SeverityLow
	default:
		report.Severity = SeverityNone
	}

	log.Info().
		Bool("drift", report.DriftDetected).
		Str("severity", report.Severity.String()).
		Int("failing_tests", failing).
		Float64("min_p", minP).
		Float64("vol_ratio", report.VolatilityRatio).
		Msg("drift detection complete")
	return report
}

// ljungBoxDivergence applies Ljung-Box to the first differences of each
// window independently and flags drift when exactly one window shows
// significant autocorrelation.
func (d *Detector) ljungBoxDivergence(baseline, recent *series.Series) stats.TestResult {
	lbBase := stats.LjungBox(baseline.Diff(), 0, d.cfg.Alpha)
	lbRecent := stats.LjungBox(recent.Diff(), 0, d.cfg.Alpha)

	diverged := lbBase.Significant != lbRecent.Significant
	p := lbRecent.PValue
	if lbBase.PValue < p {
		p = lbBase.PValue
	}
	if !diverged {
		// Agreeing windows are not evidence of drift regardless of p.
		p = 1
	}
	return stats.TestResult{
		Name:        "ljung_box_divergence",
		Statistic:   lbRecent.Statistic - lbBase.Statistic,
		PValue:      p,
		Significant: diverged,
	}
}

// volRatio flags recent/baseline std outside [1/bound, bound]. Zero
// baseline variance yields a neutral, unflagged 1.0.
func (d *Detector) volRatio(baseline, recent *series.Series) (float64, bool) {
	baseStd := baseline.Std()
	recentStd := recent.Std()
	if baseStd == 0 {
		return 1, false
	}
	ratio := recentStd / baseStd
	flagged := ratio > d.cfg.VolRatioBound || ratio < 1/d.cfg.VolRatioBound
	return ratio, flagged
}

// Describe renders a short human-readable summary for trigger reasons.
func (r *Report) Describe() string {
	if r.Status == StatusInsufficientData {
		return "drift: insufficient data"
	}
	return fmt.Sprintf("drift severity %s (vol ratio %.2f)", r.Severity, r.VolatilityRatio)
}
