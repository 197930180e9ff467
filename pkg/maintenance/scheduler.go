// Package maintenance runs the periodic housekeeping jobs: guardrail store
// sweeps and queue gauge sampling.
package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/pkg/guardrail"
	"github.com/outrigger-ai/outrigger/pkg/queue"
)

const (
	defaultSweepSchedule  = "* * * * *"
	defaultSampleSchedule = "* * * * *"

	// rate-limit windows older than this are assumed elapsed
	rateLimitHorizon = time.Hour
)

// Scheduler owns the cron runner and the registered jobs
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	sweepSchedule  string
	sampleSchedule string
}

// Config holds scheduler configuration. Schedules are standard five-field
// cron expressions; empty means once per minute.
type Config struct {
	SweepSchedule  string
	SampleSchedule string
	Logger         zerolog.Logger
}

// New creates a scheduler; jobs are registered before Start
func New(cfg Config) *Scheduler {
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweepSchedule
	}
	if cfg.SampleSchedule == "" {
		cfg.SampleSchedule = defaultSampleSchedule
	}
	return &Scheduler{
		cron:           cron.New(),
		logger:         cfg.Logger,
		sweepSchedule:  cfg.SweepSchedule,
		sampleSchedule: cfg.SampleSchedule,
	}
}

// RegisterSweeper schedules periodic expiry sweeps of an idempotency store
func (s *Scheduler) RegisterSweeper(name string, sweeper guardrail.Sweeper) error {
	if sweeper == nil {
		return fmt.Errorf("sweeper %s is nil", name)
	}
	_, err := s.cron.AddFunc(s.sweepSchedule, func() {
		removed := sweeper.Sweep()
		if removed > 0 {
			s.logger.Debug().Str("store", name).Int("removed", removed).Msg("Store swept")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep for %s: %w", name, err)
	}
	return nil
}

// RegisterWindowSweeper schedules stale-window sweeps of a rate-limit store
func (s *Scheduler) RegisterWindowSweeper(name string, sweeper guardrail.WindowSweeper) error {
	if sweeper == nil {
		return fmt.Errorf("window sweeper %s is nil", name)
	}
	_, err := s.cron.AddFunc(s.sweepSchedule, func() {
		removed := sweeper.SweepOlderThan(rateLimitHorizon)
		if removed > 0 {
			s.logger.Debug().Str("store", name).Int("removed", removed).Msg("Rate limit windows swept")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule window sweep for %s: %w", name, err)
	}
	return nil
}

// RegisterQueue schedules periodic sampling of a queue's counts into the
// depth gauges
func (s *Scheduler) RegisterQueue(q *queue.Queue) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}
	_, err := s.cron.AddFunc(s.sampleSchedule, func() {
		counts := q.Counts()
		observability.SetQueueDepth(q.Name(), "waiting", counts.Waiting)
		observability.SetQueueDepth(q.Name(), "active", counts.Active)
		observability.SetQueueDepth(q.Name(), "delayed", counts.Delayed)
		observability.SetQueueDepth(q.Name(), "failed", counts.Failed)
		observability.SetDeadLetterSize(q.DLQ().Name(), q.DLQ().Size())
	})
	if err != nil {
		return fmt.Errorf("schedule sampling for %s: %w", q.Name(), err)
	}
	return nil
}

// Start begins running the registered jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Maintenance scheduler started")
}

// Stop halts the scheduler, waiting for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}
