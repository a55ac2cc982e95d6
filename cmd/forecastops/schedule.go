package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forecastops/forecastops/internal/app"
	"github.com/forecastops/forecastops/internal/config"
	"github.com/forecastops/forecastops/internal/scheduler"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
)

func newScheduleCmd() *cobra.Command {
	var jobsPath string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the controller steps on recurring timers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			schedCfg, err := scheduler.LoadConfig(jobsPath)
			if err != nil {
				return err
			}

			// The series file is re-read on every tick so long-running
			// schedules pick up freshly appended observations.
			load := func() (*series.Series, error) { return loadSeries(flagSeries) }

			s, err := load()
			if err != nil {
				return err
			}
			var actuals source.ActualSource
			if cfg.Actuals.Backend != "http" {
				actuals = source.NewSeriesSource(s)
			}

			ctl, err := app.New(cfg, actuals)
			if err != nil {
				return err
			}
			defer ctl.Close()

			steps := map[string]scheduler.StepFunc{
				"forecast": func(ctx context.Context, horizon string) (any, error) {
					s, err := load()
					if err != nil {
						return nil, err
					}
					return ctl.Forecast(ctx, horizon, s)
				},
				"reconcile": func(ctx context.Context, horizon string) (any, error) {
					// Rebuild the series-backed source from the re-read
					// file so actuals appended since startup reconcile.
					var src source.ActualSource
					if cfg.Actuals.Backend != "http" {
						s, err := load()
						if err != nil {
							return nil, err
						}
						src = source.NewSeriesSource(s)
					}
					updated, err := ctl.Reconcile(ctx, src)
					if err != nil {
						return nil, err
					}
					return map[string]int{"updated": updated}, nil
				},
				"monitor": func(ctx context.Context, horizon string) (any, error) {
					s, err := load()
					if err != nil {
						return nil, err
					}
					return ctl.Monitor(ctx, horizon, s)
				},
				"trigger": func(ctx context.Context, horizon string) (any, error) {
					s, err := load()
					if err != nil {
						return nil, err
					}
					return ctl.Trigger(ctx, horizon, s)
				},
				"optimize": func(ctx context.Context, horizon string) (any, error) {
					s, err := load()
					if err != nil {
						return nil, err
					}
					return ctl.Optimize(ctx, horizon, s)
				},
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Int("jobs", len(schedCfg.Jobs)).Msg("scheduler starting")
			return scheduler.New(schedCfg, steps).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&jobsPath, "jobs", "config/scheduler.yaml", "scheduler job definitions")
	return cmd
}
