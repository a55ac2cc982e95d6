// Package trigger fuses performance degradation, input drift, and elapsed
// time into the retrain/retune decision, and keeps the append-only
// optimization history that makes the decision auditable.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/drift"
	"github.com/forecastops/forecastops/internal/perfmon"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/store"
)

const historyTable = "optimization_history"

// EntryKind distinguishes audit entries from completed optimizations.
type EntryKind string

const (
	KindTriggerCheck EntryKind = "trigger_check"
	KindOptimization EntryKind = "optimization"
)

// HistoryEntry is one append-only history row.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Horizon   string    `json:"horizon"`
	Triggered bool      `json:"triggered"`
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the decision for one horizon. Optional inputs that were
// unavailable stay nil so consumers handle absence explicitly.
type Report struct {
	Horizon          string    `json:"horizon"`
	ShouldOptimize   bool      `json:"should_optimize"`
	Reasons          []string  `json:"reasons"`
	DegradationPct   *float64  `json:"degradation_pct,omitempty"`
	DriftSeverity    *string   `json:"drift_severity,omitempty"`
	DaysSinceLastOpt *int      `json:"days_since_last_opt,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Config tunes the three sub-checks.
type Config struct {
	RMSEDegradationPct float64        `yaml:"rmse_degradation_pct"` // default 15
	MinDriftSeverity   drift.Severity `yaml:"min_drift_severity"`   // default medium
	CooldownDays       int            `yaml:"cooldown_days"`        // default 14
}

// DefaultConfig returns the default trigger configuration.
func DefaultConfig() Config {
	return Config{RMSEDegradationPct: 15, MinDriftSeverity: drift.SeverityMedium, CooldownDays: 14}
}

// Manager makes the optimize/don't-optimize call.
type Manager struct {
	cfg      Config
	monitor  *perfmon.Monitor
	detector *drift.Detector
	store    store.Store
	now      func() time.Time
}

// New creates a Manager.
func New(monitor *perfmon.Monitor, detector *drift.Detector, st store.Store, cfg Config) *Manager {
	if cfg.RMSEDegradationPct <= 0 {
		cfg.RMSEDegradationPct = 15
	}
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = 14
	}
	return &Manager{cfg: cfg, monitor: monitor, detector: detector, store: st, now: time.Now}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// ShouldOptimize OR-composes three independent checks and records the
// invocation to the history log regardless of outcome. Sub-check failures
// degrade to "that check contributes nothing", never to an error: a bad
// monitoring window must not stall the loop.
func (m *Manager) ShouldOptimize(ctx context.Context, horizon string, s *series.Series) (*Report, error) {
	report := &Report{Horizon: horizon, CheckedAt: m.now().UTC()}

	// (a) performance degradation
	perfReport, err := m.monitor.Check(ctx, horizon)
	if err != nil {
		log.Warn().Err(err).Msg("trigger: performance check unavailable")
	} else if perfReport.Degraded() {
		pct := perfReport.RMSEDegradationPct()
		report.DegradationPct = &pct
		if pct >= m.cfg.RMSEDegradationPct {
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("performance %s: RMSE degraded %.1f%% (threshold %.1f%%)",
					perfReport.Status, pct, m.cfg.RMSEDegradationPct))
		}
	}

	// (b) input drift
	driftReport := m.detector.Detect(s)
	if driftReport.Status == drift.StatusOK {
		sev := driftReport.Severity.String()
		report.DriftSeverity = &sev
		if driftReport.Severity >= m.cfg.MinDriftSeverity {
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("input drift severity %s (minimum %s)", driftReport.Severity, m.cfg.MinDriftSeverity))
		}
	}

	// (c) elapsed time since the last completed optimization
	lastOpt, found, err := m.lastOptimization(ctx, horizon)
	if err != nil {
		log.Warn().Err(err).Msg("trigger: optimization history unavailable")
	} else if !found {
		report.Reasons = append(report.Reasons, "no prior optimization recorded for horizon")
	} else {
		days := int(m.now().UTC().Sub(lastOpt).Hours() / 24)
		report.DaysSinceLastOpt = &days
		if days >= m.cfg.CooldownDays {
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("%d days since last optimization (minimum %d)", days, m.cfg.CooldownDays))
		}
	}

	report.ShouldOptimize = len(report.Reasons) > 0

	if err := m.append(ctx, &HistoryEntry{
		ID:        uuid.NewString(),
		Kind:      KindTriggerCheck,
		Horizon:   horizon,
		Triggered: report.ShouldOptimize,
		Reasons:   report.Reasons,
		Timestamp: report.CheckedAt,
	}); err != nil {
		log.Warn().Err(err).Msg("trigger: failed to append history entry")
	}

	log.Info().Str("horizon", horizon).Bool("optimize", report.ShouldOptimize).
		Strs("reasons", report.Reasons).Msg("trigger decision")
	return report, nil
}

// RecordOptimization appends a completed-optimization entry; the next
// cooldown check counts from it.
func (m *Manager) RecordOptimization(ctx context.Context, horizon string) error {
	return m.append(ctx, &HistoryEntry{
		ID:        uuid.NewString(),
		Kind:      KindOptimization,
		Horizon:   horizon,
		Triggered: true,
		Timestamp: m.now().UTC(),
	})
}

func (m *Manager) append(ctx context.Context, entry *HistoryEntry) error {
	if _, err := m.store.Append(ctx, historyTable, entry.ID, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// lastOptimization scans for the newest completed optimization timestamp.
func (m *Manager) lastOptimization(ctx context.Context, horizon string) (time.Time, bool, error) {
	var last time.Time
	found := false
	err := m.store.Scan(ctx, historyTable, func(key string, raw json.RawMessage) error {
		var entry HistoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping unreadable history entry")
			return nil
		}
		if entry.Kind != KindOptimization || entry.Horizon != horizon {
			return nil
		}
		if entry.Timestamp.After(last) {
			last = entry.Timestamp
			found = true
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return last, found, nil
}
