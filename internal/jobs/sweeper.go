// -----------------------------------------------------------------------
// Queued-job sweeper - cron-driven admission. Every tick re-enters deferred
// runs whose backoff elapsed and admits QUEUED jobs while slots remain.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Sweeper periodically drains the queued and deferred job pools
type Sweeper struct {
	runner   *Runner
	schedule string
	logger   arbor.ILogger
	cron     *cron.Cron
}

// NewSweeper builds a sweeper on the given cron schedule (e.g. "@every 15s")
func NewSweeper(runner *Runner, schedule string, logger arbor.ILogger) *Sweeper {
	if schedule == "" {
		schedule = "@every 15s"
	}
	return &Sweeper{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sweep job and starts the scheduler
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Job sweeper started")
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) sweep() {
	s.runner.Sweep(context.Background())
}
