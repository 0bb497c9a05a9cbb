package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// RunRepository stores each run with its steps in one JSON document. Transitions are serialized by a
// process-wide lock, so the file backend is for a single worker process only.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) path(runID string) string {
	return filepath.Join(rr.root, "runs", safeName(runID)+".json")
}

func (rr *RunRepository) load(runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun

	found, err := readJSON(rr.path(runID), &run)
	if err != nil {
		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	if !found {
		return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
	}

	sort.SliceStable(run.Steps, func(i, j int) bool { return run.Steps[i].Position < run.Steps[j].Position })

	return &run, nil
}

// mutate applies fn to the stored run and writes it back only when fn reports a change.
func (rr *RunRepository) mutate(runID string, fn func(run *models.WorkflowRun) bool) (bool, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	run, err := rr.load(runID)
	if err != nil {
		return false, err
	}

	if !fn(run) {
		return false, nil
	}

	run.UpdatedAt = time.Now().UTC()

	err = writeJSON(rr.path(runID), run)
	if err != nil {
		return false, persistence.NewRunError("SaveRun", runID, err)
	}

	return true, nil
}

func (rr *RunRepository) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("CreateRun", run.ID, persistence.ErrRunAlreadyExists)
	}

	for _, step := range run.Steps {
		if step.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step ID: %w", err)
			}

			step.ID = id.String()
		}

		step.RunID = run.ID
	}

	return writeJSON(rr.path(run.ID), run)
}

func (rr *RunRepository) GetRun(_ context.Context, runID string) (*models.WorkflowRun, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	return rr.load(runID)
}

func (rr *RunRepository) RunsByStatus(_ context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowRun, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	jsonFiles, err := fs.Glob(os.DirFS(filepath.Join(rr.root, "runs")), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0)

	for _, file := range jsonFiles {
		run, err := rr.load(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if run.Status == status && run.UpdatedAt.Before(updatedBefore) {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].UpdatedAt.Before(runs[j].UpdatedAt) })

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (rr *RunRepository) BeginStep(_ context.Context, runID, nodeID string, at time.Time) (bool, error) {
	return rr.mutate(runID, func(run *models.WorkflowRun) bool {
		step, ok := run.Step(nodeID)
		if !ok || run.Status.IsTerminal() || !step.Status.CanTransitionTo(models.StepStatusRunning) {
			return false
		}

		step.Status = models.StepStatusRunning
		step.Attempt++
		step.StartedAt = &at

		run.Status = models.RunStatusRunning
		run.CurrentNodeID = nodeID

		if run.StartedAt == nil {
			run.StartedAt = &at
		}

		return true
	})
}

func (rr *RunRepository) CompleteStep(_ context.Context, runID, nodeID string, output map[string]any, at time.Time) (bool, error) {
	return rr.finishStep(runID, nodeID, models.StepStatusCompleted, at, func(step *models.WorkflowRunStep) {
		if output == nil {
			output = map[string]any{}
		}

		step.Status = models.StepStatusCompleted
		step.Output = output
	})
}

func (rr *RunRepository) FailStep(_ context.Context, runID, nodeID, errorMessage string, at time.Time) (bool, error) {
	return rr.finishStep(runID, nodeID, models.StepStatusFailed, at, func(step *models.WorkflowRunStep) {
		step.Status = models.StepStatusFailed
		step.Error = errorMessage
	})
}

func (rr *RunRepository) finishStep(runID, nodeID string, to models.StepStatus, at time.Time, apply func(step *models.WorkflowRunStep)) (bool, error) {
	return rr.mutate(runID, func(run *models.WorkflowRun) bool {
		step, ok := run.Step(nodeID)
		if !ok || !step.Status.CanTransitionTo(to) {
			return false
		}

		apply(step)
		step.FinishedAt = &at

		return true
	})
}

func (rr *RunRepository) SkipSteps(_ context.Context, runID string, nodeIDs []string) (int, error) {
	only := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		only[id] = true
	}

	skipped := 0

	_, err := rr.mutate(runID, func(run *models.WorkflowRun) bool {
		for _, step := range run.Steps {
			if !step.Status.CanTransitionTo(models.StepStatusSkipped) {
				continue
			}

			if len(only) > 0 && !only[step.NodeID] {
				continue
			}

			step.Status = models.StepStatusSkipped
			skipped++
		}

		return skipped > 0
	})
	if err != nil {
		return 0, err
	}

	return skipped, nil
}

func (rr *RunRepository) AdvanceRun(_ context.Context, runID, nodeID string) (bool, error) {
	return rr.mutate(runID, func(run *models.WorkflowRun) bool {
		if run.Status.IsTerminal() {
			return false
		}

		run.CurrentNodeID = nodeID

		return true
	})
}

func (rr *RunRepository) CompleteRun(_ context.Context, runID string, at time.Time) (bool, error) {
	return rr.finishRun(runID, models.RunStatusCompleted, "", at)
}

func (rr *RunRepository) FailRun(_ context.Context, runID, errorMessage string, at time.Time) (bool, error) {
	return rr.finishRun(runID, models.RunStatusFailed, errorMessage, at)
}

func (rr *RunRepository) finishRun(runID string, status models.RunStatus, errorMessage string, at time.Time) (bool, error) {
	return rr.mutate(runID, func(run *models.WorkflowRun) bool {
		if !run.Status.CanTransitionTo(status) {
			return false
		}

		run.Status = status
		run.Error = errorMessage
		run.CurrentNodeID = ""
		run.FinishedAt = &at

		return true
	})
}
