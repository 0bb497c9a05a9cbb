package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows   *MockWorkflowRepository
	Runs        *MockRunRepository
	Connections *MockConnectionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:   &MockWorkflowRepository{},
		Runs:        &MockRunRepository{},
		Connections: &MockConnectionRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.Runs
}

func (m *MockPersistence) ConnectionRepository() persistence.ConnectionRepository {
	return m.Connections
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ActiveByTrigger(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, companyID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) RunsByStatus(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, status, updatedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) BeginStep(ctx context.Context, runID, nodeID string, at time.Time) (bool, error) {
	args := m.Called(ctx, runID, nodeID, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) CompleteStep(ctx context.Context, runID, nodeID string, output map[string]any, at time.Time) (bool, error) {
	args := m.Called(ctx, runID, nodeID, output, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) FailStep(ctx context.Context, runID, nodeID, errorMessage string, at time.Time) (bool, error) {
	args := m.Called(ctx, runID, nodeID, errorMessage, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) SkipSteps(ctx context.Context, runID string, nodeIDs []string) (int, error) {
	args := m.Called(ctx, runID, nodeIDs)

	return args.Int(0), args.Error(1)
}

func (m *MockRunRepository) AdvanceRun(ctx context.Context, runID, nodeID string) (bool, error) {
	args := m.Called(ctx, runID, nodeID)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) CompleteRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	args := m.Called(ctx, runID, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) FailRun(ctx context.Context, runID, errorMessage string, at time.Time) (bool, error) {
	args := m.Called(ctx, runID, errorMessage, at)

	return args.Bool(0), args.Error(1)
}

// MockConnectionRepository is a mock implementation of persistence.ConnectionRepository interface.
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) Save(ctx context.Context, connection *models.IntegrationConnection) error {
	args := m.Called(ctx, connection)

	return args.Error(0)
}

func (m *MockConnectionRepository) CompanyByAccount(ctx context.Context, provider, externalAccountID string) (string, error) {
	args := m.Called(ctx, provider, externalAccountID)

	return args.String(0), args.Error(1)
}
