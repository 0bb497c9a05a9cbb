// Package web provides the HTTP handlers for trigger ingestion and run inspection.
package web

import (
	"time"

	"github.com/dukex/flowpilot/pkg/models"
)

// ManualRunRequest is the body of a manual run. The payload becomes trigger.payload.
type ManualRunRequest struct {
	Payload map[string]any `json:"payload"`
}

// TriggerResponse lists the runs created for one inbound event.
type TriggerResponse struct {
	RunIDs []string `json:"run_ids"`
}

// RunResponse is a run with its steps in plan order.
type RunResponse struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	CompanyID     string             `json:"company_id"`
	Status        models.RunStatus   `json:"status"`
	TriggerType   models.TriggerType `json:"trigger_type"`
	TriggerData   map[string]any     `json:"trigger_payload"`
	CurrentNodeID string             `json:"current_node_id,omitempty"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
	Steps         []StepResponse     `json:"steps"`
}

type StepResponse struct {
	NodeID     string            `json:"node_id"`
	Status     models.StepStatus `json:"status"`
	Attempt    int               `json:"attempt"`
	Output     map[string]any    `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

func newRunResponse(run *models.WorkflowRun) RunResponse {
	steps := make([]StepResponse, 0, len(run.Steps))

	for _, step := range run.Steps {
		steps = append(steps, StepResponse{
			NodeID:     step.NodeID,
			Status:     step.Status,
			Attempt:    step.Attempt,
			Output:     step.Output,
			Error:      step.Error,
			StartedAt:  step.StartedAt,
			FinishedAt: step.FinishedAt,
		})
	}

	return RunResponse{
		ID:            run.ID,
		WorkflowID:    run.WorkflowID,
		CompanyID:     run.CompanyID,
		Status:        run.Status,
		TriggerType:   run.TriggerType,
		TriggerData:   run.TriggerPayload,
		CurrentNodeID: run.CurrentNodeID,
		Error:         run.Error,
		CreatedAt:     run.CreatedAt,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Steps:         steps,
	}
}
