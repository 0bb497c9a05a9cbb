package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep_RepublishesStaleRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(mocks.MockRunRepository)
	bus := new(mocks.MockEventBus)

	stale := []*models.WorkflowRun{
		{ID: "run-1", WorkflowID: "wf-1", CompanyID: "c-1", Status: models.RunStatusQueued},
		{ID: "run-2", WorkflowID: "wf-2", CompanyID: "c-1", Status: models.RunStatusQueued},
	}

	repo.On("RunsByStatus", mock.Anything, models.RunStatusQueued, now.Add(-5*time.Minute), defaultBatchSize).Return(stale, nil)
	repo.On("RunsByStatus", mock.Anything, models.RunStatusRunning, now.Add(-5*time.Minute), defaultBatchSize).
		Return([]*models.WorkflowRun{}, nil)
	bus.On("Publish", mock.Anything, "run-1", mock.MatchedBy(func(e events.RunQueued) bool {
		return e.RunID == "run-1" && e.Redelivery
	})).Return(nil)
	bus.On("Publish", mock.Anything, "run-2", mock.AnythingOfType("events.RunQueued")).Return(nil)

	sweeper := NewSweeper(repo, bus, 5*time.Minute, discardLogger())
	sweeper.now = func() time.Time { return now }

	count, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestSweep_StopsOnPublishError(t *testing.T) {
	repo := new(mocks.MockRunRepository)
	bus := new(mocks.MockEventBus)

	repo.On("RunsByStatus", mock.Anything, models.RunStatusQueued, mock.Anything, defaultBatchSize).
		Return([]*models.WorkflowRun{{ID: "run-1"}, {ID: "run-2"}}, nil)
	bus.On("Publish", mock.Anything, "run-1", mock.Anything).Return(errors.New("broker down"))

	count, err := NewSweeper(repo, bus, time.Minute, discardLogger()).Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, count)
	bus.AssertNotCalled(t, "Publish", mock.Anything, "run-2", mock.Anything)
}

func TestSweep_ListError(t *testing.T) {
	repo := new(mocks.MockRunRepository)

	repo.On("RunsByStatus", mock.Anything, models.RunStatusQueued, mock.Anything, defaultBatchSize).
		Return(nil, errors.New("connection refused"))

	_, err := NewSweeper(repo, new(mocks.MockEventBus), time.Minute, discardLogger()).Sweep(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestSweep_RedrivesStalledRunningRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(mocks.MockRunRepository)
	bus := new(mocks.MockEventBus)

	stalled := []*models.WorkflowRun{
		{ID: "run-1", Status: models.RunStatusRunning, CurrentNodeID: "b", Steps: []*models.WorkflowRunStep{
			{NodeID: "a", Position: 0, Status: models.StepStatusCompleted},
			{NodeID: "b", Position: 1, Status: models.StepStatusPending},
		}},
		{ID: "run-2", Status: models.RunStatusRunning, CurrentNodeID: "a", Steps: []*models.WorkflowRunStep{
			{NodeID: "a", Position: 0, Status: models.StepStatusRunning},
		}},
	}

	repo.On("RunsByStatus", mock.Anything, models.RunStatusQueued, now.Add(-time.Minute), defaultBatchSize).
		Return([]*models.WorkflowRun{}, nil)
	repo.On("RunsByStatus", mock.Anything, models.RunStatusRunning, now.Add(-time.Minute), defaultBatchSize).
		Return(stalled, nil)
	bus.On("Publish", mock.Anything, "run-1", mock.MatchedBy(func(e events.RunStepAvailable) bool {
		return e.RunID == "run-1" && e.NodeID == "b"
	})).Return(nil)

	sweeper := NewSweeper(repo, bus, time.Minute, discardLogger())
	sweeper.now = func() time.Time { return now }

	count, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
	bus.AssertNotCalled(t, "Publish", mock.Anything, "run-2", mock.Anything)
}

func TestSweep_RedrivesRunAfterLostStepTask(t *testing.T) {
	ctx := t.Context()
	runs := file.NewPersistence(t.TempDir()).RunRepository()
	bus := new(mocks.MockEventBus)

	run := &models.WorkflowRun{
		WorkflowID:  "wf-1",
		CompanyID:   "c-1",
		Status:      models.RunStatusQueued,
		TriggerType: models.TriggerTypeManual,
		Steps: []*models.WorkflowRunStep{
			{NodeID: "a", Position: 0, Status: models.StepStatusPending},
			{NodeID: "b", Position: 1, Status: models.StepStatusPending},
		},
	}
	require.NoError(t, runs.CreateRun(ctx, run))

	at := time.Now().UTC()

	_, err := runs.BeginStep(ctx, run.ID, "a", at)
	require.NoError(t, err)
	_, err = runs.CompleteStep(ctx, run.ID, "a", nil, at)
	require.NoError(t, err)
	_, err = runs.AdvanceRun(ctx, run.ID, "b")
	require.NoError(t, err)

	bus.On("Publish", mock.Anything, run.ID, mock.MatchedBy(func(e events.RunStepAvailable) bool {
		return e.NodeID == "b"
	})).Return(nil).Once()

	sweeper := NewSweeper(runs, bus, 5*time.Minute, discardLogger())

	count, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a run that just moved is not stale")

	sweeper.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	count, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	bus.AssertExpectations(t)
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	sweeper := NewSweeper(new(mocks.MockRunRepository), new(mocks.MockEventBus), time.Minute, discardLogger())

	assert.Error(t, sweeper.Start(context.Background(), "every now and then"))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	repo := new(mocks.MockRunRepository)
	swept := make(chan struct{}, 1)

	repo.On("RunsByStatus", mock.Anything, models.RunStatusQueued, mock.Anything, defaultBatchSize).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return([]*models.WorkflowRun{}, nil)
	repo.On("RunsByStatus", mock.Anything, models.RunStatusRunning, mock.Anything, defaultBatchSize).
		Return([]*models.WorkflowRun{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := NewSweeper(repo, new(mocks.MockEventBus), time.Minute, discardLogger())
	require.NoError(t, sweeper.Start(ctx, EverySchedule(time.Second)))

	select {
	case <-swept:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}

	sweeper.Stop()
}

func TestEverySchedule(t *testing.T) {
	assert.Equal(t, "@every 30s", EverySchedule(30*time.Second))
}
