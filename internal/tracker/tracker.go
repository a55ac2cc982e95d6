// Package tracker keeps the durable log of every issued forecast and
// reconciles it against realized values, producing the only genuinely
// out-of-sample accuracy numbers in the system.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/metrics"
	"github.com/forecastops/forecastops/internal/source"
	"github.com/forecastops/forecastops/internal/store"
)

const recordsTable = "prediction_records"

// ValidationError reports malformed tracker input. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid prediction: " + e.Reason
}

// PredictionRecord is one logged forecast for one target date. A record is
// created with a nil ActualValue, mutated exactly once by reconciliation,
// and never deleted.
type PredictionRecord struct {
	ForecastDate  time.Time `json:"forecast_date"`
	Horizon       string    `json:"horizon"`
	TargetDate    time.Time `json:"target_date"`
	PredictedMean float64   `json:"predicted_mean"`
	CI95Low       float64   `json:"ci95_low"`
	CI95High      float64   `json:"ci95_high"`

	ActualValue *float64 `json:"actual_value,omitempty"`
	Error       *float64 `json:"error,omitempty"`     // predicted - actual
	AbsError    *float64 `json:"abs_error,omitempty"`
	PctError    *float64 `json:"pct_error,omitempty"` // percent, vs actual

	LoggedAt  time.Time `json:"logged_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the uniqueness key (forecast_date, horizon, target_date).
func (r *PredictionRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s",
		r.ForecastDate.Format("2006-01-02"), r.Horizon, r.TargetDate.Format("2006-01-02"))
}

// PerformanceMetrics summarizes reconciled out-of-sample accuracy for one
// horizon. HasData=false is the "no data yet" sentinel: zero reconciled
// records is an answer, not an error.
type PerformanceMetrics struct {
	Horizon             string  `json:"horizon"`
	HasData             bool    `json:"has_data"`
	SampleCount         int     `json:"sample_count"`
	PendingCount        int     `json:"pending_count"`
	RMSE                float64 `json:"rmse"`
	MAE                 float64 `json:"mae"`
	MAPE                float64 `json:"mape"`
	Coverage95          float64 `json:"coverage_95"`
	Bias                float64 `json:"bias"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
}

// Config tunes reconciliation behavior.
type Config struct {
	MaxDriftDays int `yaml:"max_drift_days"` // nearest-date fallback window (default 3)
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{MaxDriftDays: 3}
}

// Tracker is the prediction log. Writes serialize through the underlying
// store's lock, so concurrent forecast producers are safe.
type Tracker struct {
	cfg   Config
	store store.Store
	now   func() time.Time
}

// New creates a Tracker over the given store.
func New(st store.Store, cfg Config) *Tracker {
	if cfg.MaxDriftDays <= 0 {
		cfg.MaxDriftDays = 3
	}
	return &Tracker{cfg: cfg, store: st, now: time.Now}
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// LogPrediction appends one forecast record. Duplicate keys are a warning
// no-op, preserving the uniqueness invariant without failing producers that
// legitimately re-run a forecast step.
func (t *Tracker) LogPrediction(ctx context.Context, forecastDate time.Time, horizon string, targetDate time.Time, mean, ci95Low, ci95High float64) error {
	if !targetDate.After(forecastDate) {
		return &ValidationError{Reason: fmt.Sprintf("target date %s not after forecast date %s",
			targetDate.Format("2006-01-02"), forecastDate.Format("2006-01-02"))}
	}
	if ci95Low > mean {
		return &ValidationError{Reason: fmt.Sprintf("ci95 low %.6f above mean %.6f", ci95Low, mean)}
	}
	if mean > ci95High {
		return &ValidationError{Reason: fmt.Sprintf("mean %.6f above ci95 high %.6f", mean, ci95High)}
	}

	now := t.now().UTC()
	rec := &PredictionRecord{
		ForecastDate:  forecastDate,
		Horizon:       horizon,
		TargetDate:    targetDate,
		PredictedMean: mean,
		CI95Low:       ci95Low,
		CI95High:      ci95High,
		LoggedAt:      now,
		UpdatedAt:     now,
	}
	inserted, err := t.store.Append(ctx, recordsTable, rec.Key(), rec)
	if err != nil {
		return fmt.Errorf("log prediction: %w", err)
	}
	if !inserted {
		log.Warn().Str("key", rec.Key()).Msg("duplicate prediction log attempt ignored")
	}
	return nil
}

// Reconcile attaches realized values to unresolved records whose target date
// has passed within the lookback window. Matching is exact-date first, then
// nearest within the configured drift window (closest wins, earlier date on
// ties). Returns the number of records updated; an unavailable source means
// 0 updated, never a fatal error.
func (t *Tracker) Reconcile(ctx context.Context, src source.ActualSource, lookbackDays int) (int, error) {
	now := t.now().UTC()
	cutoff := now.AddDate(0, 0, -lookbackDays)
	sourceDown := false

	updated, err := t.store.Update(ctx, recordsTable, func(key string, raw json.RawMessage) (json.RawMessage, bool, error) {
		var rec PredictionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping unreadable prediction record")
			return nil, false, nil
		}
		if rec.ActualValue != nil {
			return nil, false, nil
		}
		if rec.TargetDate.After(now) || rec.TargetDate.Before(cutoff) {
			return nil, false, nil
		}
		if sourceDown {
			return nil, false, nil
		}

		actual, found, err := src.ValueOn(ctx, rec.TargetDate, t.cfg.MaxDriftDays)
		if err != nil {
			// Provider trouble: stop trying this run, keep what we have.
			log.Warn().Err(err).Msg("actuals source unavailable, deferring reconciliation")
			sourceDown = true
			return nil, false, nil
		}
		if !found {
			return nil, false, nil
		}

		errVal := rec.PredictedMean - actual
		absErr := math.Abs(errVal)
		rec.ActualValue = &actual
		rec.Error = &errVal
		rec.AbsError = &absErr
		if actual != 0 {
			pct := absErr / math.Abs(actual) * 100
			rec.PctError = &pct
		}
		rec.UpdatedAt = now

		doc, err := json.Marshal(&rec)
		if err != nil {
			return nil, false, fmt.Errorf("marshal reconciled record: %w", err)
		}
		return doc, true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	if updated > 0 {
		log.Info().Int("updated", updated).Msg("reconciled prediction records")
	}
	return updated, nil
}

// Records returns all records for a horizon with target dates inside the
// trailing window, reconciled or not.
func (t *Tracker) Records(ctx context.Context, horizon string, days int) ([]PredictionRecord, error) {
	cutoff := t.now().UTC().AddDate(0, 0, -days)
	var out []PredictionRecord
	err := t.store.Scan(ctx, recordsTable, func(key string, raw json.RawMessage) error {
		var rec PredictionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping unreadable prediction record")
			return nil
		}
		if rec.Horizon != horizon || rec.TargetDate.Before(cutoff) {
			return nil
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return out, nil
}

// Performance aggregates reconciled records for the horizon over the
// trailing window.
func (t *Tracker) Performance(ctx context.Context, horizon string, days int) (*PerformanceMetrics, error) {
	records, err := t.Records(ctx, horizon, days)
	if err != nil {
		return nil, err
	}

	perf := &PerformanceMetrics{Horizon: horizon}
	var actual, predicted, lows, highs []float64
	for _, rec := range records {
		if rec.ActualValue == nil {
			perf.PendingCount++
			continue
		}
		actual = append(actual, *rec.ActualValue)
		predicted = append(predicted, rec.PredictedMean)
		lows = append(lows, rec.CI95Low)
		highs = append(highs, rec.CI95High)
	}
	perf.SampleCount = len(actual)
	if perf.SampleCount == 0 {
		return perf, nil // no data yet sentinel
	}
	perf.HasData = true

	perf.RMSE, _ = metrics.RMSE(actual, predicted)
	perf.MAE, _ = metrics.MAE(actual, predicted)
	if mape, err := metrics.MAPE(actual, predicted); err == nil {
		perf.MAPE = mape
	}
	perf.Coverage95, _ = metrics.Coverage(actual, lows, highs)
	perf.Bias, _ = metrics.Bias(actual, predicted)
	if da, err := metrics.DirectionalAccuracy(actual, predicted); err == nil {
		perf.DirectionalAccuracy = da
	}
	return perf, nil
}
