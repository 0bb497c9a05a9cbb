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
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// RunRepository handles run and step database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateRun inserts the run and every step in a single transaction.
func (rr *RunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) (err error) {
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

	payloadJSON, err := json.Marshal(nonNilMap(run.TriggerPayload))
	if err != nil {
		return fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	definitionJSON, err := json.Marshal(run.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	tx, err := rr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, company_id, status, trigger_type, trigger_payload,
			definition, current_node_id, error_message, created_at, updated_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		run.ID,
		run.WorkflowID,
		run.CompanyID,
		string(run.Status),
		string(run.TriggerType),
		payloadJSON,
		definitionJSON,
		nullString(run.CurrentNodeID),
		nullString(run.Error),
		run.CreatedAt,
		run.UpdatedAt,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrRunAlreadyExists)
		}

		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	for _, step := range run.Steps {
		if step.ID == "" {
			id, idErr := uuid.NewV7()
			if idErr != nil {
				err = fmt.Errorf("failed to generate step ID: %w", idErr)

				return err
			}

			step.ID = id.String()
		}

		step.RunID = run.ID

		var outputJSON []byte

		if step.Output != nil {
			outputJSON, err = json.Marshal(step.Output)
			if err != nil {
				return fmt.Errorf("failed to marshal step output: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_run_steps (id, run_id, node_id, position, status, attempt, output,
				error_message, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			step.ID,
			step.RunID,
			step.NodeID,
			step.Position,
			string(step.Status),
			step.Attempt,
			outputJSON,
			nullString(step.Error),
			step.StartedAt,
			step.FinishedAt,
		)
		if err != nil {
			return persistence.NewStepError("CreateRun", run.ID, step.NodeID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

const selectRun = `
		SELECT id, workflow_id, company_id, status, trigger_type, trigger_payload, definition,
			current_node_id, error_message, created_at, updated_at, started_at, finished_at
		FROM workflow_runs
`

// GetRun returns the run with its steps in plan order, or persistence.ErrRunNotFound.
func (rr *RunRepository) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
	}

	run, err := rr.scanRun(rr.db.QueryRowContext(ctx, selectRun+" WHERE id = $1", runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	run.Steps, err = rr.steps(ctx, runID)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// RunsByStatus returns up to limit runs in status last changed before the given instant, least recent first.
func (rr *RunRepository) RunsByStatus(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowRun, error) {
	rows, err := rr.db.QueryContext(ctx, selectRun+`
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, string(status), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, rr.logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := rr.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// BeginStep claims a pending step. The owning run moves to running in the same transaction.
func (rr *RunRepository) BeginStep(ctx context.Context, runID, nodeID string, at time.Time) (changed bool, err error) {
	tx, err := rr.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil || !changed {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE workflow_run_steps
		SET status = 'running', attempt = attempt + 1, started_at = $3
		WHERE run_id = $1 AND node_id = $2 AND status = 'pending'
			AND EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1 AND status IN ('queued', 'running'))
	`, runID, nodeID, at)
	if err != nil {
		return false, persistence.NewStepError("BeginStep", runID, nodeID, err)
	}

	changed, err = rowsChanged(result)
	if err != nil || !changed {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_runs
		SET status = 'running', started_at = COALESCE(started_at, $2), current_node_id = $3, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')
	`, runID, at, nodeID)
	if err != nil {
		return false, persistence.NewRunError("BeginStep", runID, err)
	}

	err = tx.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to commit step start: %w", err)
	}

	return true, nil
}

func (rr *RunRepository) CompleteStep(ctx context.Context, runID, nodeID string, output map[string]any, at time.Time) (bool, error) {
	outputJSON, err := json.Marshal(nonNilMap(output))
	if err != nil {
		return false, fmt.Errorf("failed to marshal step output: %w", err)
	}

	result, err := rr.db.ExecContext(ctx, `
		UPDATE workflow_run_steps
		SET status = 'completed', output = $3, finished_at = $4
		WHERE run_id = $1 AND node_id = $2 AND status = 'running'
	`, runID, nodeID, outputJSON, at)
	if err != nil {
		return false, persistence.NewStepError("CompleteStep", runID, nodeID, err)
	}

	return rowsChanged(result)
}

func (rr *RunRepository) FailStep(ctx context.Context, runID, nodeID, errorMessage string, at time.Time) (bool, error) {
	result, err := rr.db.ExecContext(ctx, `
		UPDATE workflow_run_steps
		SET status = 'failed', error_message = $3, finished_at = $4
		WHERE run_id = $1 AND node_id = $2 AND status = 'running'
	`, runID, nodeID, errorMessage, at)
	if err != nil {
		return false, persistence.NewStepError("FailStep", runID, nodeID, err)
	}

	return rowsChanged(result)
}

func (rr *RunRepository) SkipSteps(ctx context.Context, runID string, nodeIDs []string) (int, error) {
	var (
		result sql.Result
		err    error
	)

	if len(nodeIDs) == 0 {
		result, err = rr.db.ExecContext(ctx, `
			UPDATE workflow_run_steps SET status = 'skipped'
			WHERE run_id = $1 AND status = 'pending'
		`, runID)
	} else {
		result, err = rr.db.ExecContext(ctx, `
			UPDATE workflow_run_steps SET status = 'skipped'
			WHERE run_id = $1 AND status = 'pending' AND node_id = ANY($2)
		`, runID, pq.Array(nodeIDs))
	}

	if err != nil {
		return 0, persistence.NewRunError("SkipSteps", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}

func (rr *RunRepository) AdvanceRun(ctx context.Context, runID, nodeID string) (bool, error) {
	result, err := rr.db.ExecContext(ctx, `
		UPDATE workflow_runs SET current_node_id = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, runID, nodeID)
	if err != nil {
		return false, persistence.NewRunError("AdvanceRun", runID, err)
	}

	return rowsChanged(result)
}

func (rr *RunRepository) CompleteRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	result, err := rr.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = 'completed', current_node_id = NULL, finished_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')
	`, runID, at)
	if err != nil {
		return false, persistence.NewRunError("CompleteRun", runID, err)
	}

	return rowsChanged(result)
}

func (rr *RunRepository) FailRun(ctx context.Context, runID, errorMessage string, at time.Time) (bool, error) {
	result, err := rr.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = 'failed', error_message = $2, current_node_id = NULL, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('queued', 'running')
	`, runID, errorMessage, at)
	if err != nil {
		return false, persistence.NewRunError("FailRun", runID, err)
	}

	return rowsChanged(result)
}

func (rr *RunRepository) steps(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	rows, err := rr.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, position, status, attempt, output, error_message, started_at, finished_at
		FROM workflow_run_steps
		WHERE run_id = $1
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	defer closeRows(ctx, rr.logger, rows)

	steps := make([]*models.WorkflowRunStep, 0)

	for rows.Next() {
		var (
			step       models.WorkflowRunStep
			status     string
			outputJSON []byte
			errorMsg   sql.NullString
			startedAt  sql.NullTime
			finishedAt sql.NullTime
		)

		err := rows.Scan(&step.ID, &step.RunID, &step.NodeID, &step.Position, &status, &step.Attempt,
			&outputJSON, &errorMsg, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.Status = models.StepStatus(status)
		step.Error = errorMsg.String
		step.StartedAt = timePtr(startedAt)
		step.FinishedAt = timePtr(finishedAt)

		if len(outputJSON) > 0 {
			err = json.Unmarshal(outputJSON, &step.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (rr *RunRepository) scanRun(scanner rowScanner) (*models.WorkflowRun, error) {
	var (
		run            models.WorkflowRun
		status         string
		triggerType    string
		payloadJSON    []byte
		definitionJSON []byte
		currentNodeID  sql.NullString
		errorMsg       sql.NullString
		startedAt      sql.NullTime
		finishedAt     sql.NullTime
	)

	err := scanner.Scan(&run.ID, &run.WorkflowID, &run.CompanyID, &status, &triggerType, &payloadJSON,
		&definitionJSON, &currentNodeID, &errorMsg, &run.CreatedAt, &run.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.TriggerType = models.TriggerType(triggerType)
	run.CurrentNodeID = currentNodeID.String
	run.Error = errorMsg.String
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)

	err = json.Unmarshal(payloadJSON, &run.TriggerPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}

	err = json.Unmarshal(definitionJSON, &run.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &run, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}

func nonNilMap(value map[string]any) map[string]any {
	if value == nil {
		return map[string]any{}
	}

	return value
}
