package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

var (
	ErrMissingWorkflow  = errors.New("run requires a workflow id")
	ErrMissingCompany   = errors.New("run requires a company id")
	ErrDuplicatePlanned = errors.New("planned order lists a node twice")
)

// NewRun describes a run about to be created.
type NewRun struct {
	WorkflowID     string
	CompanyID      string
	TriggerType    models.TriggerType
	TriggerPayload map[string]any
	Definition     models.WorkflowDefinition
	PlannedOrder   []string
}

// Service applies lifecycle transitions through a RunRepository. Transitions that find nothing to change
// return false without error so retried deliveries are harmless.
type Service struct {
	repository persistence.RunRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(repository persistence.RunRepository, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		logger:     logger.With("module", "runs"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun persists a queued run and one pending step per planned node, all or nothing.
func (s *Service) CreateRun(ctx context.Context, input NewRun) (*models.WorkflowRun, error) {
	if input.WorkflowID == "" {
		return nil, ErrMissingWorkflow
	}

	if input.CompanyID == "" {
		return nil, ErrMissingCompany
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	payload := input.TriggerPayload
	if payload == nil {
		payload = map[string]any{}
	}

	run := &models.WorkflowRun{
		ID:             runID.String(),
		WorkflowID:     input.WorkflowID,
		CompanyID:      input.CompanyID,
		Status:         models.RunStatusQueued,
		TriggerType:    input.TriggerType,
		TriggerPayload: payload,
		Definition:     input.Definition,
		CreatedAt:      s.now(),
		Steps:          make([]*models.WorkflowRunStep, 0, len(input.PlannedOrder)),
	}

	seen := make(map[string]bool, len(input.PlannedOrder))

	for position, nodeID := range input.PlannedOrder {
		if seen[nodeID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlanned, nodeID)
		}

		seen[nodeID] = true

		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate step ID: %w", err)
		}

		run.Steps = append(run.Steps, &models.WorkflowRunStep{
			ID:       stepID.String(),
			RunID:    run.ID,
			NodeID:   nodeID,
			Position: position,
			Status:   models.StepStatusPending,
		})
	}

	err = s.repository.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.InfoContext(ctx, "Run created",
		"run_id", run.ID, "workflow_id", run.WorkflowID, "company_id", run.CompanyID, "steps", len(run.Steps))

	return run, nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	return s.repository.GetRun(ctx, runID)
}

// BeginStep bumps the attempt of a pending step and marks it running; the run becomes running with it.
func (s *Service) BeginStep(ctx context.Context, runID, nodeID string) (bool, error) {
	changed, err := s.repository.BeginStep(ctx, runID, nodeID, s.now())

	return s.report(ctx, "BeginStep", runID, nodeID, changed, err)
}

func (s *Service) CompleteStep(ctx context.Context, runID, nodeID string, output map[string]any) (bool, error) {
	changed, err := s.repository.CompleteStep(ctx, runID, nodeID, output, s.now())

	return s.report(ctx, "CompleteStep", runID, nodeID, changed, err)
}

func (s *Service) FailStep(ctx context.Context, runID, nodeID string, cause error) (bool, error) {
	message := "step failed"
	if cause != nil {
		message = cause.Error()
	}

	changed, err := s.repository.FailStep(ctx, runID, nodeID, message, s.now())

	return s.report(ctx, "FailStep", runID, nodeID, changed, err)
}

// SkipStep skips one pending step.
func (s *Service) SkipStep(ctx context.Context, runID, nodeID string) (bool, error) {
	skipped, err := s.SkipSteps(ctx, runID, nodeID)

	return skipped > 0, err
}

// SkipSteps skips the given pending steps, or every pending step when none are named.
func (s *Service) SkipSteps(ctx context.Context, runID string, nodeIDs ...string) (int, error) {
	skipped, err := s.repository.SkipSteps(ctx, runID, nodeIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to skip steps: %w", err)
	}

	if skipped > 0 {
		s.logger.DebugContext(ctx, "Steps skipped", "run_id", runID, "count", skipped)
	}

	return skipped, nil
}

func (s *Service) AdvanceRun(ctx context.Context, runID, nodeID string) (bool, error) {
	changed, err := s.repository.AdvanceRun(ctx, runID, nodeID)

	return s.report(ctx, "AdvanceRun", runID, nodeID, changed, err)
}

func (s *Service) CompleteRun(ctx context.Context, runID string) (bool, error) {
	changed, err := s.repository.CompleteRun(ctx, runID, s.now())

	return s.report(ctx, "CompleteRun", runID, "", changed, err)
}

func (s *Service) FailRun(ctx context.Context, runID string, cause error) (bool, error) {
	message := "run failed"
	if cause != nil {
		message = cause.Error()
	}

	changed, err := s.repository.FailRun(ctx, runID, message, s.now())

	return s.report(ctx, "FailRun", runID, "", changed, err)
}

func (s *Service) report(ctx context.Context, op, runID, nodeID string, changed bool, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if !changed {
		s.logger.DebugContext(ctx, "Transition was a no-op", "op", op, "run_id", runID, "node_id", nodeID)
	}

	return changed, nil
}
