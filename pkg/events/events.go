// Package events defines the run task events exchanged between the API, the workers and the sweeper.
package events

import (
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every run task event. Messages are keyed by run id so one run stays on one partition.
const Topic = "flowpilot.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunQueuedEvent        EventType = "run.queued"
	RunStepAvailableEvent EventType = "run.step.available"
	RunCompletedEvent     EventType = "run.completed"
	RunFailedEvent        EventType = "run.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	CompanyID  string         `json:"company_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunQueued asks a worker to start a run. The sweeper republishes it for runs that never started.
type RunQueued struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	Redelivery  bool               `json:"redelivery,omitempty"`
}

func (e RunQueued) GetType() EventType {
	return RunQueuedEvent
}

// RunStepAvailable asks a worker to dispatch the next step of a running run.
type RunStepAvailable struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e RunStepAvailable) GetType() EventType {
	return RunStepAvailableEvent
}

type RunCompleted struct {
	BaseEvent

	LastNodeID string `json:"last_node_id,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

func NewBaseEvent(eventType EventType, run *models.WorkflowRun) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		CompanyID:  run.CompanyID,
		Metadata:   make(map[string]any),
	}
}

func NewRunQueued(run *models.WorkflowRun) RunQueued {
	return RunQueued{
		BaseEvent:   NewBaseEvent(RunQueuedEvent, run),
		TriggerType: run.TriggerType,
	}
}

// Decode returns an empty event value for eventType, ready to be unmarshaled into.
func Decode(eventType EventType) (any, bool) {
	switch eventType {
	case RunQueuedEvent:
		return &RunQueued{}, true
	case RunStepAvailableEvent:
		return &RunStepAvailable{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFailedEvent:
		return &RunFailed{}, true
	default:
		return nil, false
	}
}
