package models

import (
	"slices"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StepStatus is the lifecycle state of one materialized step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// WorkflowRun is one execution of a workflow, born from a single matched trigger event.
type WorkflowRun struct {
	ID             string             `json:"id"`
	WorkflowID     string             `json:"workflow_id"`
	CompanyID      string             `json:"company_id"`
	Status         RunStatus          `json:"status"`
	TriggerType    TriggerType        `json:"trigger_type"`
	TriggerPayload map[string]any     `json:"trigger_payload"`
	Definition     WorkflowDefinition `json:"definition"`
	CurrentNodeID  string             `json:"current_node_id,omitempty"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	Steps          []*WorkflowRunStep `json:"steps,omitempty"`
}

// WorkflowRunStep is the persisted record of one node within one run.
type WorkflowRunStep struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	Position   int            `json:"position"`
	Status     StepStatus     `json:"status"`
	Attempt    int            `json:"attempt"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Step returns the step materialized for nodeID.
func (r *WorkflowRun) Step(nodeID string) (*WorkflowRunStep, bool) {
	for _, step := range r.Steps {
		if step.NodeID == nodeID {
			return step, true
		}
	}

	return nil, false
}

// FirstPendingStep returns the first pending step in plan order.
func (r *WorkflowRun) FirstPendingStep() (*WorkflowRunStep, bool) {
	var first *WorkflowRunStep

	for _, step := range r.Steps {
		if step.Status != StepStatusPending {
			continue
		}

		if first == nil || step.Position < first.Position {
			first = step
		}
	}

	return first, first != nil
}

// Context builds the run context from the trigger payload and completed step outputs.
func (r *WorkflowRun) Context() *RunContext {
	outputs := make(map[string]any, len(r.Steps))

	for _, step := range r.Steps {
		if step.Status == StepStatusCompleted {
			outputs[step.NodeID] = step.Output
		}
	}

	return &RunContext{
		RunID:          r.ID,
		WorkflowID:     r.WorkflowID,
		CompanyID:      r.CompanyID,
		TriggerType:    r.TriggerType,
		TriggerPayload: r.TriggerPayload,
		StepOutputs:    outputs,
	}
}

// RunContext is what token expressions are resolved against.
type RunContext struct {
	RunID          string
	WorkflowID     string
	CompanyID      string
	TriggerType    TriggerType
	TriggerPayload map[string]any
	StepOutputs    map[string]any
}

// Trigger returns the object addressed by the trigger namespace.
func (c *RunContext) Trigger() map[string]any {
	return map[string]any{
		"type":    string(c.TriggerType),
		"payload": c.TriggerPayload,
	}
}

// Scope returns the context as a plain map for paths outside the trigger and steps namespaces.
func (c *RunContext) Scope() map[string]any {
	return map[string]any{
		"runId":          c.RunID,
		"workflowId":     c.WorkflowID,
		"companyId":      c.CompanyID,
		"triggerType":    string(c.TriggerType),
		"triggerPayload": c.TriggerPayload,
		"stepOutputs":    c.StepOutputs,
		"run": map[string]any{
			"id":         c.RunID,
			"workflowId": c.WorkflowID,
			"companyId":  c.CompanyID,
		},
	}
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:  {RunStatusRunning, RunStatusCompleted, RunStatusFailed},
	RunStatusRunning: {RunStatusCompleted, RunStatusFailed},
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending: {StepStatusRunning, StepStatusSkipped},
	StepStatusRunning: {StepStatusCompleted, StepStatusFailed},
}

// CanTransitionTo reports whether a run may move from s to next.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	return slices.Contains(runTransitions[s], next)
}

// CanTransitionTo reports whether a step may move from s to next.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	return slices.Contains(stepTransitions[s], next)
}
