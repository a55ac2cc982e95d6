// Package progress gives long-running backtest sweeps periodic progress
// logging with an ETA, without flooding the log on fast iterations.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Indicator tracks completion of a fixed-size sweep and logs at most once
// per interval.
type Indicator struct {
	mu        sync.Mutex
	name      string
	total     int
	current   int
	startTime time.Time
	lastLog   time.Time
	interval  time.Duration
}

// New creates an indicator for a sweep of total units.
func New(name string, total int) *Indicator {
	return &Indicator{
		name:      name,
		total:     total,
		startTime: time.Now(),
		interval:  2 * time.Second,
	}
}

// Increment advances by one unit and may emit a progress line.
func (p *Indicator) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	now := time.Now()
	if now.Sub(p.lastLog) < p.interval && p.current < p.total {
		return
	}
	p.lastLog = now

	elapsed := now.Sub(p.startTime)
	pct := 0.0
	var eta time.Duration
	if p.total > 0 && p.current > 0 {
		pct = float64(p.current) / float64(p.total) * 100
		eta = time.Duration(float64(elapsed) / float64(p.current) * float64(p.total-p.current))
	}
	log.Info().Str("sweep", p.name).
		Int("done", p.current).Int("total", p.total).
		Float64("pct", pct).Dur("eta", eta.Round(time.Second)).
		Msg("sweep progress")
}

// Done logs the final summary.
func (p *Indicator) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Info().Str("sweep", p.name).Int("total", p.current).
		Dur("elapsed", time.Since(p.startTime).Round(time.Millisecond)).
		Msg("sweep complete")
}
