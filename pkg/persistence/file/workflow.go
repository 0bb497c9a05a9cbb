package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) path(id string) string {
	return filepath.Join(wr.root, "workflows", safeName(id)+".json")
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := readJSON(wr.path(workflowID), &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	if !found {
		return nil, persistence.ErrWorkflowNotFound
	}

	return &workflow, nil
}

// ActiveByTrigger scans every stored workflow; acceptable for the local development backend.
func (wr *WorkflowRepository) ActiveByTrigger(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	root := os.DirFS(filepath.Join(wr.root, "workflows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0)

	for _, file := range jsonFiles {
		workflow, err := wr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if workflow.CompanyID == companyID && workflow.Active && workflow.Definition.Trigger.Type == triggerType {
			workflows = append(workflows, workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	return writeJSON(wr.path(workflow.ID), workflow)
}
