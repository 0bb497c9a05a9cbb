// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyExists indicates a run with the same identifier already exists.
	ErrRunAlreadyExists = errors.New("run already exists")

	// ErrConnectionNotFound indicates no tenant owns the given external account.
	ErrConnectionNotFound = errors.New("integration connection not found")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op     string // Operation being performed (e.g., "CreateRun", "BeginStep")
	RunID  string
	NodeID string // Node ID if the operation targets a step
	Err    error
}

func (e *RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for step %s of run %s: %v", e.Op, e.NodeID, e.RunID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// NewStepError creates a new run error scoped to one step.
func NewStepError(op, runID, nodeID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, NodeID: nodeID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsConnectionNotFound checks if an error indicates an unknown external account.
func IsConnectionNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound)
}
