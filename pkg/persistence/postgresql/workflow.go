package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const selectWorkflow = `
		SELECT
			id
		  , company_id
		  , name
		  , active
		  , definition
		  , created_at
		  , updated_at
		FROM workflows
`

// GetByID returns the workflow or persistence.ErrWorkflowNotFound.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE id = $1", id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// ActiveByTrigger returns the tenant's active workflows whose trigger has the given type.
func (r *WorkflowRepository) ActiveByTrigger(ctx context.Context, companyID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := selectWorkflow + `
		WHERE company_id = $1 AND trigger_type = $2 AND active
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, companyID, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// Save saves a workflow to the database.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
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

	definitionJSON, err := json.Marshal(workflow.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, company_id, name, active, trigger_type, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			trigger_type = EXCLUDED.trigger_type,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.CompanyID,
		workflow.Name,
		workflow.Active,
		string(workflow.Definition.Trigger.Type),
		definitionJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(scanner rowScanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		definitionJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.CompanyID,
		&workflow.Name,
		&workflow.Active,
		&definitionJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(definitionJSON, &workflow.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &workflow, nil
}
