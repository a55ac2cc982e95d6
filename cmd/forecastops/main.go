package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "forecastops"
	version = "v1.2.0"
)

var (
	flagConfig  string
	flagSeries  string
	flagHorizon string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Adaptive forecast-ensemble and model-lifecycle controller",
		Version: version,
		Long: `forecastops combines multiple statistical and ML forecasters into one
calibrated prediction, tracks every prediction against realized values,
detects input drift and accuracy degradation, and re-optimizes, validates,
and deploys model configurations without human intervention.

Each control-loop step is its own subcommand so an external scheduler can
drive the loop; 'schedule' runs the bundled interval scheduler instead.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/forecastops.yaml", "Controller configuration file")
	rootCmd.PersistentFlags().StringVar(&flagSeries, "series", "", "CSV file with the target series (date,value)")
	rootCmd.PersistentFlags().StringVar(&flagHorizon, "horizon", "1m", "Forecast horizon label")

	rootCmd.AddCommand(
		newForecastCmd(),
		newReconcileCmd(),
		newMonitorCmd(),
		newTriggerCmd(),
		newOptimizeCmd(),
		newRollbackCmd(),
		newScheduleCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
