// Package source defines how the controller looks up realized values for
// past dates during reconciliation. The lookup is an external collaborator;
// a failing source is "no data yet", never a reconciliation failure.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/forecastops/forecastops/internal/series"
)

// ErrExternalSource wraps failures of a remote actual-value provider.
// Reconciliation treats it as retry-later; backtest callers treat it as
// fatal for that specific backtest.
var ErrExternalSource = errors.New("external actuals source failed")

// ActualSource resolves the realized value for a past date, allowing a
// nearest-date fallback up to maxDriftDays for weekend and holiday gaps.
// found=false with a nil error means no observation exists near that date.
type ActualSource interface {
	ValueOn(ctx context.Context, date time.Time, maxDriftDays int) (value float64, found bool, err error)
}

// SeriesSource serves actuals from an in-memory series. Used when the
// caller already holds the realized history, and throughout tests.
type SeriesSource struct {
	s *series.Series
}

// NewSeriesSource wraps a series as an ActualSource.
func NewSeriesSource(s *series.Series) *SeriesSource {
	return &SeriesSource{s: s}
}

// ValueOn looks up the value with the series' nearest-date semantics.
func (src *SeriesSource) ValueOn(_ context.Context, date time.Time, maxDriftDays int) (float64, bool, error) {
	v, ok := src.s.ValueOn(date, maxDriftDays)
	return v, ok, nil
}
