// Package regime classifies the data regime of the target series. The
// classification modulates ensemble interval width: stress regimes widen
// bands so coverage holds up when volatility clusters.
package regime

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/series"
)

// Regime is the market/data regime classification.
type Regime int

const (
	Normal Regime = iota
	Stress
)

func (r Regime) String() string {
	if r == Stress {
		return "stress"
	}
	return "normal"
}

// Config holds detection thresholds.
type Config struct {
	RecentWindow     int     `yaml:"recent_window"`      // observations in the recent window (default 20)
	VolRatioTrigger  float64 `yaml:"vol_ratio_trigger"`  // recent/long-run return-vol ratio (default 1.5)
	DrawdownTrigger  float64 `yaml:"drawdown_trigger"`   // recent max drawdown fraction (default 0.15)
	StressIntervalX  float64 `yaml:"stress_interval_x"`  // interval multiplier under stress (default 1.25)
	MinObservations  int     `yaml:"min_observations"`   // below this, always Normal (default 60)
}

// DefaultConfig returns the default regime configuration.
func DefaultConfig() Config {
	return Config{
		RecentWindow:    20,
		VolRatioTrigger: 1.5,
		DrawdownTrigger: 0.15,
		StressIntervalX: 1.25,
		MinObservations: 60,
	}
}

// Result is the classification plus the signals that produced it.
type Result struct {
	Regime        Regime            `json:"regime"`
	IntervalScale float64           `json:"interval_scale"`
	Signals       map[string]float64 `json:"signals"`
	Votes         map[string]bool   `json:"votes"`
	DetectedAt    time.Time         `json:"detected_at"`
}

// Detector classifies regimes from the raw series.
type Detector struct {
	cfg Config
}

// New creates a Detector.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.VolRatioTrigger <= 1 {
		cfg.VolRatioTrigger = def.VolRatioTrigger
	}
	if cfg.DrawdownTrigger <= 0 {
		cfg.DrawdownTrigger = def.DrawdownTrigger
	}
	if cfg.StressIntervalX <= 1 {
		cfg.StressIntervalX = def.StressIntervalX
	}
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	return &Detector{cfg: cfg}
}

// Detect votes return-volatility expansion and recent drawdown, declaring
// stress when either fires. An unnecessarily wide band costs little next to
// blown coverage in a stressed market.
func (d *Detector) Detect(s *series.Series) *Result {
	result := &Result{
		Regime:        Normal,
		IntervalScale: 1,
		Signals:       map[string]float64{},
		Votes:         map[string]bool{},
		DetectedAt:    time.Now().UTC(),
	}
	if s == nil || s.Len() < d.cfg.MinObservations {
		return result
	}

	returns := series.FromValues(time.Unix(0, 0), s.Returns())
	longRunVol := returns.Std()
	recentVol := returns.Tail(d.cfg.RecentWindow).Std()

	volRatio := 1.0
	if longRunVol > 0 {
		volRatio = recentVol / longRunVol
	}
	drawdown := s.Tail(d.cfg.RecentWindow).MaxDrawdown()

	result.Signals["vol_ratio"] = volRatio
	result.Signals["recent_drawdown"] = drawdown
	result.Votes["vol_expansion"] = volRatio > d.cfg.VolRatioTrigger
	result.Votes["drawdown"] = drawdown > d.cfg.DrawdownTrigger

	if result.Votes["vol_expansion"] || result.Votes["drawdown"] {
		result.Regime = Stress
		result.IntervalScale = d.cfg.StressIntervalX
	}

	log.Info().Str("regime", result.Regime.String()).
		Float64("vol_ratio", volRatio).Float64("drawdown", drawdown).
		Msg("regime detection complete")
	return result
}
