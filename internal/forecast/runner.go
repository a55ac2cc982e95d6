package forecast

import (
	"context"

	"github.com/forecastops/forecastops/internal/series"
)

// Runner is the uniform contract for a forecasting technique. Given the
// training history it produces point forecasts with uncertainty and its own
// in-sample error estimate. Runners hold no shared mutable state and may be
// executed in parallel.
type Runner interface {
	Name() string
	Run(ctx context.Context, history *series.Series, steps int) (*ModelResult, error)
}
