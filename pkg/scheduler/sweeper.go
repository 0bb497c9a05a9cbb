// Package scheduler re-drives runs whose task was lost.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const defaultBatchSize = 100

// Sweeper re-drives runs whose task was lost. Runs still queued after StaleAfter get a fresh RunQueued;
// running runs that have not moved for StaleAfter get a RunStepAvailable for their cursor. Dispatch is
// idempotent, so a run that was merely slow is harmless to re-enqueue.
type Sweeper struct {
	runs       persistence.RunRepository
	publisher  eventbus.EventPublisher
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	cron       *cron.Cron
	logger     *slog.Logger
}

func NewSweeper(runs persistence.RunRepository, publisher eventbus.EventPublisher, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		runs:       runs,
		publisher:  publisher,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("module", "sweeper", "stale_after", staleAfter.String()),
	}
}

// Sweep publishes one task per stale run and returns how many were published.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	idleSince := s.now().Add(-s.staleAfter)

	queued, err := s.runs.RunsByStatus(ctx, models.RunStatusQueued, idleSince, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued runs: %w", err)
	}

	published := 0

	for _, run := range queued {
		event := events.NewRunQueued(run)
		event.Redelivery = true

		err := s.publisher.Publish(ctx, run.ID, event)
		if err != nil {
			return published, fmt.Errorf("failed to republish run %s: %w", run.ID, err)
		}

		published++
	}

	running, err := s.runs.RunsByStatus(ctx, models.RunStatusRunning, idleSince, s.batchSize)
	if err != nil {
		return published, fmt.Errorf("failed to list running runs: %w", err)
	}

	for _, run := range running {
		step, ok := run.Step(run.CurrentNodeID)
		if !ok || step.Status == models.StepStatusRunning {
			// A step still marked running belongs to an in-flight or crashed executor and cannot be reclaimed.
			continue
		}

		event := events.RunStepAvailable{
			BaseEvent: events.NewBaseEvent(events.RunStepAvailableEvent, run),
			NodeID:    step.NodeID,
		}

		err := s.publisher.Publish(ctx, run.ID, event)
		if err != nil {
			return published, fmt.Errorf("failed to republish step %s of run %s: %w", step.NodeID, run.ID, err)
		}

		published++
	}

	if published > 0 {
		s.logger.InfoContext(ctx, "Republished stale runs", "count", published)
	}

	return published, nil
}

// Start sweeps on the cron schedule until ctx is done.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := s.cron.AddFunc(schedule, func() {
		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	s.logger.InfoContext(ctx, "Starting sweeper", "schedule", schedule, "job_id", id)
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// EverySchedule turns an interval into a cron descriptor.
func EverySchedule(interval time.Duration) string {
	return "@every " + interval.String()
}
