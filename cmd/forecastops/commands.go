package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forecastops/forecastops/internal/app"
	"github.com/forecastops/forecastops/internal/config"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
)

// withController loads config and the series, builds the controller, runs
// fn, and prints its JSON result to stdout.
func withController(needSeries bool, fn func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error)) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	var s *series.Series
	if needSeries {
		s, err = loadSeries(flagSeries)
		if err != nil {
			return err
		}
	}

	// With the "series" actuals backend the input file doubles as the
	// realized-value lookup: anything in it that postdates a forecast is
	// an observed actual.
	var actuals source.ActualSource
	if cfg.Actuals.Backend != "http" && s != nil {
		actuals = source.NewSeriesSource(s)
	}

	ctl, err := app.New(cfg, actuals)
	if err != nil {
		return err
	}
	defer ctl.Close()

	result, err := fn(context.Background(), ctl, s)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newForecastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Run all model runners, combine, and log the forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(true, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				return ctl.Forecast(ctx, flagHorizon, s)
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Attach realized values to pending predictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(true, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				updated, err := ctl.Reconcile(ctx, nil)
				if err != nil {
					return nil, err
				}
				return map[string]int{"updated": updated}, nil
			})
		},
	}
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the performance check and drift detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(true, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				return ctl.Monitor(ctx, flagHorizon, s)
			})
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Decide whether re-optimization is warranted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(true, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				return ctl.Trigger(ctx, flagHorizon, s)
			})
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Search hyperparameters, validate against the baseline, deploy if approved",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(true, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				return ctl.Optimize(ctx, flagHorizon, s)
			})
		},
	}
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore the most recent configuration backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(false, func(ctx context.Context, ctl *app.Controller, s *series.Series) (any, error) {
				ok := ctl.Deployer().Rollback(flagHorizon)
				if !ok {
					return nil, fmt.Errorf("rollback failed for horizon %s", flagHorizon)
				}
				log.Info().Str("horizon", flagHorizon).Msg("rollback complete")
				return map[string]bool{"restored": true}, nil
			})
		},
	}
}
