// Package collector takes a snapshot of every tracked account on a fixed
// interval.
package collector

import (
	"context"
	"errors"
	"time"

	"bot-scorer/internal/tracker"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is one collection per day.
const DefaultInterval = 24 * time.Hour

// Runner performs one collection pass.
type Runner interface {
	CollectAll(ctx context.Context) (tracker.CollectReport, error)
}

type Collector struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
}

func New(runner Runner, interval time.Duration, runOnStart bool) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{runner: runner, interval: interval, runOnStart: runOnStart}
}

// Run collects on every tick until ctx is canceled. A failed pass is logged
// and the next tick proceeds normally.
func (c *Collector) Run(ctx context.Context) {
	log.Info().Dur("interval", c.interval).Bool("run_on_start", c.runOnStart).Msg("Collector started")

	if c.runOnStart {
		c.runOnce(ctx)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Collector stopped")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Collector) runOnce(ctx context.Context) {
	report, err := c.runner.CollectAll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Int("stored", report.Stored).Msg("Collection interrupted")
			return
		}
		log.Error().Err(err).Msg("Collection failed")
		return
	}

	log.Debug().
		Int("failed", report.Failed).
		Time("next_run", time.Now().Add(c.interval)).
		Msg("Collector pass complete")
}
