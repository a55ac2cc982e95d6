// Package forecast defines the forecast data model and the runner contract
// every forecasting technique implements.
package forecast

import (
	"fmt"
	"time"
)

// ForecastPoint is one horizon step of a forecast with its uncertainty
// bands. The 80% interval is always nested inside the 95% interval.
type ForecastPoint struct {
	Date     time.Time `json:"date"`
	Mean     float64   `json:"mean"`
	CI80Low  float64   `json:"ci80_low"`
	CI80High float64   `json:"ci80_high"`
	CI95Low  float64   `json:"ci95_low"`
	CI95High float64   `json:"ci95_high"`
	StdDev   float64   `json:"std_dev"`
}

// Validate enforces the interval invariants: nested bands and a
// non-negative standard deviation.
func (p ForecastPoint) Validate() error {
	if p.StdDev < 0 {
		return fmt.Errorf("forecast point %s: negative std dev %f", p.Date.Format("2006-01-02"), p.StdDev)
	}
	if p.CI80Low < p.CI95Low || p.CI80High > p.CI95High {
		return fmt.Errorf("forecast point %s: 80%% interval not nested in 95%% interval", p.Date.Format("2006-01-02"))
	}
	if p.Mean < p.CI95Low || p.Mean > p.CI95High {
		return fmt.Errorf("forecast point %s: mean outside 95%% interval", p.Date.Format("2006-01-02"))
	}
	return nil
}

// ForecastPackage is a complete forecast emitted to trackers and reporting
// collaborators. Immutable once produced.
type ForecastPackage struct {
	Points       []ForecastPoint    `json:"points"`
	Methodology  string             `json:"methodology"`
	ErrorMetrics map[string]float64 `json:"error_metrics"`
	ResidualVol  float64            `json:"residual_vol"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// Validate checks every point and the chronological ordering of the steps.
func (fp *ForecastPackage) Validate() error {
	for i, p := range fp.Points {
		if err := p.Validate(); err != nil {
			return err
		}
		if i > 0 && !p.Date.After(fp.Points[i-1].Date) {
			return fmt.Errorf("forecast package: steps out of order at index %d", i)
		}
	}
	return nil
}

// ModelResult is a single technique's forecast plus in-sample fit quality.
// Owned by the ensemble call that created it and discarded afterwards.
type ModelResult struct {
	Name    string          `json:"name"`
	Package ForecastPackage `json:"package"`
	RMSE    float64         `json:"rmse"`
	MAPE    float64         `json:"mape"`
	Meta    map[string]any  `json:"meta,omitempty"`
}
