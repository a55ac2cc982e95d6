// Package deploy atomically persists approved configurations, keeps every
// predecessor as a backup, and restores the newest backup on rollback.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/forecastops/forecastops/internal/fsio"
	"github.com/forecastops/forecastops/internal/optimizer"
)

// VersionControl optionally records a deployed config in version control.
type VersionControl interface {
	Commit(path, message string) error
}

// Config holds deployment paths.
type Config struct {
	Dir       string `yaml:"dir"`        // deployed configs (default config/deployed)
	BackupDir string `yaml:"backup_dir"` // backups, never auto-deleted (default config/backups)
}

// DefaultConfig returns the default deployment paths.
func DefaultConfig() Config {
	return Config{Dir: "config/deployed", BackupDir: "config/backups"}
}

// Report records one deployment attempt. BackupPath names the predecessor
// required for rollback; backups accumulate to support multi-step rollback.
type Report struct {
	ID         string    `json:"id"`
	Horizon    string    `json:"horizon"`
	Success    bool      `json:"success"`
	ConfigPath string    `json:"config_path"`
	BackupPath string    `json:"backup_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	DeployedAt time.Time `json:"deployed_at"`
}

// Manager deploys and rolls back configurations.
type Manager struct {
	cfg Config
	vcs VersionControl // nil disables the commit step
	now func() time.Time
}

// New creates a Manager. vcs may be nil.
func New(cfg Config, vcs VersionControl) *Manager {
	if cfg.Dir == "" {
		cfg.Dir = "config/deployed"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "config/backups"
	}
	return &Manager{cfg: cfg, vcs: vcs, now: time.Now}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) configPath(horizon string) string {
	return filepath.Join(m.cfg.Dir, fmt.Sprintf("config_%s.json", horizon))
}

// Deploy persists the config for the horizon. Each step is a distinct
// failure point: back up the incumbent (skipped when none exists), write
// the new config atomically, then optionally commit. A failed step aborts
// with Success=false, leaving completed steps (the backup) in place.
func (m *Manager) Deploy(cfg *optimizer.OptimizedConfig, horizon string) *Report {
	report := &Report{
		ID:         uuid.NewString(),
		Horizon:    horizon,
		ConfigPath: m.configPath(horizon),
		DeployedAt: m.now().UTC(),
	}

	backupPath, err := m.backupCurrent(horizon)
	if err != nil {
		report.Error = fmt.Sprintf("backup step failed: %v", err)
		log.Error().Str("horizon", horizon).Str("error", report.Error).Msg("deployment aborted")
		return report
	}
	report.BackupPath = backupPath

	if err := fsio.WriteJSONAtomic(report.ConfigPath, cfg); err != nil {
		report.Error = fmt.Sprintf("write step failed: %v", err)
		log.Error().Str("horizon", horizon).Str("error", report.Error).Msg("deployment aborted")
		return report
	}

	if m.vcs != nil {
		msg := fmt.Sprintf("deploy %s config (run %s)", horizon, cfg.RunID)
		if err := m.vcs.Commit(report.ConfigPath, msg); err != nil {
			report.Error = fmt.Sprintf("version-control step failed: %v", err)
			log.Error().Str("horizon", horizon).Str("error", report.Error).Msg("deployment aborted after write")
			return report
		}
	}

	report.Success = true
	log.Info().Str("horizon", horizon).Str("path", report.ConfigPath).
		Str("backup", report.BackupPath).Msg("configuration deployed")
	return report
}

// backupCurrent copies the incumbent config aside. No incumbent is not an
// error; it returns an empty path.
func (m *Manager) backupCurrent(horizon string) (string, error) {
	current, err := os.ReadFile(m.configPath(horizon))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read current config: %w", err)
	}

	// Timestamped names sort lexicographically, so "newest backup" is the
	// last name in sorted order.
	name := fmt.Sprintf("config_%s_%s.json", horizon, m.now().UTC().Format("20060102T150405.000000000"))
	backupPath := filepath.Join(m.cfg.BackupDir, name)
	if err := fsio.WriteFileAtomic(backupPath, current); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// Rollback restores the newest backup by filename ordering. With no backup
// it logs and returns false rather than failing hard.
func (m *Manager) Rollback(horizon string) bool {
	pattern := filepath.Join(m.cfg.BackupDir, fmt.Sprintf("config_%s_*.json", horizon))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		log.Error().Err(err).Str("horizon", horizon).Msg("rollback glob failed")
		return false
	}
	if len(matches) == 0 {
		log.Warn().Str("horizon", horizon).Msg("rollback requested but no backup exists")
		return false
	}
	sort.Strings(matches)
	newest := matches[len(matches)-1]

	data, err := os.ReadFile(newest)
	if err != nil {
		log.Error().Err(err).Str("backup", newest).Msg("rollback failed reading backup")
		return false
	}
	if err := fsio.WriteFileAtomic(m.configPath(horizon), data); err != nil {
		log.Error().Err(err).Str("backup", newest).Msg("rollback failed writing config")
		return false
	}
	log.Info().Str("horizon", horizon).Str("backup", newest).Msg("configuration rolled back")
	return true
}

// Current loads the deployed config for the horizon, or nil when none has
// ever been deployed.
func (m *Manager) Current(horizon string) (*optimizer.OptimizedConfig, error) {
	data, err := os.ReadFile(m.configPath(horizon))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read deployed config: %w", err)
	}
	var cfg optimizer.OptimizedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse deployed config: %w", err)
	}
	return &cfg, nil
}
