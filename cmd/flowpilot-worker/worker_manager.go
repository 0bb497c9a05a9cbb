package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowpilot/pkg/dispatcher"
	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/scheduler"
)

// Dispatcher runs at most one step of a run per call.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string) (dispatcher.Outcome, error)
}

// RunReader loads a run to report why it failed.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
}

// Sweeper re-enqueues runs whose start task was lost.
type Sweeper interface {
	Start(ctx context.Context, schedule string) error
	Stop()
}

type WorkerManager struct {
	id         string
	logger     *slog.Logger
	dispatcher Dispatcher
	runs       RunReader
	eventBus   eventbus.EventBus
	sweeper    Sweeper
}

func NewWorkerManager(
	id string,
	dispatcher Dispatcher,
	runs RunReader,
	eventBus eventbus.EventBus,
	sweeper Sweeper,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:         id,
		logger:     logger.With("module", "flowpilot-worker", "worker_id", id),
		dispatcher: dispatcher,
		runs:       runs,
		eventBus:   eventBus,
		sweeper:    sweeper,
	}
}

// Start consumes run tasks and sweeps stale runs until ctx is cancelled or the process gets a signal.
func (w *WorkerManager) Start(ctx context.Context, sweepInterval time.Duration) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := w.eventBus.Handle(events.RunQueuedEvent, w.handleRunQueued)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.RunStepAvailableEvent, w.handleRunStepAvailable)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if sweepInterval > 0 {
		err = w.sweeper.Start(ctx, scheduler.EverySchedule(sweepInterval))
		if err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}

		defer w.sweeper.Stop()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleRunQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.RunQueued)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunQueued")

		return nil
	}

	w.logger.InfoContext(ctx, "Processing run queued event",
		"run_id", queued.RunID, "workflow_id", queued.WorkflowID, "redelivery", queued.Redelivery)

	return w.drive(ctx, queued.BaseEvent)
}

func (w *WorkerManager) handleRunStepAvailable(ctx context.Context, event any) error {
	available, ok := event.(*events.RunStepAvailable)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunStepAvailable")

		return nil
	}

	w.logger.DebugContext(ctx, "Processing run step available event", "run_id", available.RunID, "node_id", available.NodeID)

	return w.drive(ctx, available.BaseEvent)
}

// drive dispatches one step and publishes what comes next. Errors go back to the bus for redelivery.
func (w *WorkerManager) drive(ctx context.Context, source events.BaseEvent) error {
	logger := w.logger.With("run_id", source.RunID, "workflow_id", source.WorkflowID)

	outcome, err := w.dispatcher.Dispatch(ctx, source.RunID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch run", "error", err)

		return err
	}

	if outcome.NoOp {
		return nil
	}

	var next eventbus.Event

	switch {
	case outcome.HasMore():
		next = events.RunStepAvailable{
			BaseEvent: w.follow(source, events.RunStepAvailableEvent),
			NodeID:    outcome.NextNodeID,
		}

	case outcome.RunStatus == models.RunStatusCompleted:
		logger.InfoContext(ctx, "Run completed", "last_node_id", outcome.NodeID)

		next = events.RunCompleted{
			BaseEvent:  w.follow(source, events.RunCompletedEvent),
			LastNodeID: outcome.NodeID,
		}

	case outcome.RunStatus == models.RunStatusFailed:
		failed := events.RunFailed{
			BaseEvent: w.follow(source, events.RunFailedEvent),
			NodeID:    outcome.NodeID,
		}

		run, err := w.runs.GetRun(ctx, source.RunID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to load failed run", "error", err)
		} else {
			failed.Error = run.Error
		}

		logger.InfoContext(ctx, "Run failed", "node_id", outcome.NodeID, "error", failed.Error)

		next = failed

	default:
		return nil
	}

	err = w.eventBus.Publish(ctx, source.RunID, next)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish run event", "event_type", next.GetType(), "error", err)

		return err
	}

	return nil
}

func (w *WorkerManager) follow(source events.BaseEvent, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:         w.eventBus.GenerateID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		RunID:      source.RunID,
		WorkflowID: source.WorkflowID,
		CompanyID:  source.CompanyID,
		WorkerID:   w.id,
		Metadata:   make(map[string]any),
	}
}
