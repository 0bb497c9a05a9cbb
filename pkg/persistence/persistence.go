// Package persistence provides the data storage abstraction for workflows, runs and integration connections.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	ConnectionRepository() ConnectionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository reads and stores tenant workflows. The engine itself only reads.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	ActiveByTrigger(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Workflow, error)
}

// RunRepository persists runs and steps. Transition methods filter on the expected current status and
// report whether a row changed; zero rows is not an error.
type RunRepository interface {
	// CreateRun inserts the run and its steps atomically.
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	// RunsByStatus returns up to limit runs in status last changed before updatedBefore, least recent first.
	RunsByStatus(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowRun, error)

	// BeginStep moves a pending step to running, bumps its attempt and marks a queued run as running.
	BeginStep(ctx context.Context, runID, nodeID string, at time.Time) (bool, error)
	CompleteStep(ctx context.Context, runID, nodeID string, output map[string]any, at time.Time) (bool, error)
	FailStep(ctx context.Context, runID, nodeID, errorMessage string, at time.Time) (bool, error)
	// SkipSteps moves the listed pending steps to skipped. An empty list skips every pending step of the run.
	SkipSteps(ctx context.Context, runID string, nodeIDs []string) (int, error)

	// AdvanceRun moves the dispatch cursor of a non-terminal run.
	AdvanceRun(ctx context.Context, runID, nodeID string) (bool, error)
	CompleteRun(ctx context.Context, runID string, at time.Time) (bool, error)
	FailRun(ctx context.Context, runID, errorMessage string, at time.Time) (bool, error)
}

// ConnectionRepository maps external integration accounts to tenants.
type ConnectionRepository interface {
	Save(ctx context.Context, connection *models.IntegrationConnection) error
	CompanyByAccount(ctx context.Context, provider, externalAccountID string) (string, error)
}
