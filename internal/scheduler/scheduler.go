// Package scheduler runs the controller's discrete loop steps on fixed
// intervals. It exists for single-host deployments without an external
// cron; each step remains independently invocable through the CLI.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/forecastops/forecastops/internal/duration"
	"github.com/forecastops/forecastops/internal/fsio"
)

// StepFunc executes one controller step for one horizon and returns a
// JSON-serializable result for the artifact trail.
type StepFunc func(ctx context.Context, horizon string) (any, error)

// Job schedules one step for one horizon.
type Job struct {
	Name    string            `yaml:"name"`
	Step    string            `yaml:"step"` // forecast|reconcile|monitor|trigger|optimize
	Horizon string            `yaml:"horizon"`
	Every   duration.Duration `yaml:"every"`
	Enabled bool              `yaml:"enabled"`
}

// Config is the scheduler job list.
type Config struct {
	ArtifactsDir string `yaml:"artifacts_dir"`
	Jobs         []Job  `yaml:"jobs"`
}

// JobResult records one job execution for the artifact trail.
type JobResult struct {
	JobName   string        `json:"job_name"`
	Step      string        `json:"step"`
	Horizon   string        `json:"horizon"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Output    any           `json:"output,omitempty"`
}

// LoadConfig reads the scheduler YAML.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read scheduler config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse scheduler config: %w", err)
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = "artifacts/scheduler"
	}
	return cfg, nil
}

// Scheduler drives registered steps from the job list.
type Scheduler struct {
	cfg   Config
	steps map[string]StepFunc
}

// New creates a Scheduler over a step registry.
func New(cfg Config, steps map[string]StepFunc) *Scheduler {
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = "artifacts/scheduler"
	}
	return &Scheduler{cfg: cfg, steps: steps}
}

// Run blocks, executing enabled jobs on their intervals until ctx ends.
// Each job fires once immediately so a fresh deployment produces artifacts
// without waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	enabled := 0
	for _, job := range s.cfg.Jobs {
		if !job.Enabled {
			continue
		}
		if _, ok := s.steps[job.Step]; !ok {
			return fmt.Errorf("job %q references unknown step %q", job.Name, job.Step)
		}
		if job.Every <= 0 {
			return fmt.Errorf("job %q has no interval", job.Name)
		}
		enabled++
		go s.runJob(ctx, job)
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled jobs")
	}
	log.Info().Int("jobs", enabled).Msg("scheduler running")
	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every.D())
	defer ticker.Stop()

	s.execute(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

// execute runs one job occurrence. Step failures are logged and recorded,
// never propagated: one bad window must not stop the loop.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	output, err := s.steps[job.Step](ctx, job.Horizon)

	result := JobResult{
		JobName:   job.Name,
		Step:      job.Step,
		Horizon:   job.Horizon,
		StartTime: start.UTC(),
		Duration:  time.Since(start),
		Success:   err == nil,
		Output:    output,
	}
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Str("job", job.Name).Msg("scheduled step failed")
	} else {
		log.Info().Str("job", job.Name).Dur("took", result.Duration).Msg("scheduled step complete")
	}

	path := filepath.Join(s.cfg.ArtifactsDir,
		fmt.Sprintf("%s_%s.json", job.Name, start.UTC().Format("20060102T150405")))
	if err := fsio.WriteJSONAtomic(path, result); err != nil {
		log.Warn().Err(err).Str("job", job.Name).Msg("failed to write job artifact")
	}
}
