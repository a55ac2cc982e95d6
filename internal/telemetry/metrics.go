// Package telemetry exposes prometheus collectors for the control loop so
// operators can alert on drift, degradation, and deployment churn.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForecastsIssued counts completed forecast steps per horizon.
	ForecastsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "forecasts_issued_total",
		Help:      "Completed ensemble forecasts",
	}, []string{"horizon"})

	// PredictionsLogged counts tracker rows written.
	PredictionsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "predictions_logged_total",
		Help:      "Prediction records appended to the tracker",
	})

	// RecordsReconciled counts tracker rows resolved with actuals.
	RecordsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "records_reconciled_total",
		Help:      "Prediction records matched to realized values",
	})

	// DriftSeverity publishes the latest drift severity (0=none..3=high).
	DriftSeverity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "forecastops",
		Name:      "drift_severity",
		Help:      "Latest drift severity level",
	})

	// PerformanceStatus publishes the latest degradation status
	// (0=insufficient, 1=excellent, 2=good, 3=degraded, 4=critical).
	PerformanceStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "forecastops",
		Name:      "performance_status",
		Help:      "Latest performance-monitor status level",
	}, []string{"horizon"})

	// TriggerFirings counts trigger decisions by outcome.
	TriggerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "trigger_decisions_total",
		Help:      "Optimization trigger decisions",
	}, []string{"horizon", "decision"})

	// OptimizationRuns counts completed hyperparameter searches.
	OptimizationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "optimization_runs_total",
		Help:      "Completed hyperparameter searches",
	}, []string{"horizon"})

	// Deployments counts deployment attempts by result.
	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forecastops",
		Name:      "deployments_total",
		Help:      "Configuration deployment attempts",
	}, []string{"horizon", "result"})
)
