// Package protocol defines the contract between the step dispatcher and pluggable step executors.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/models"
)

// StepInput is everything an executor receives for one step.
type StepInput struct {
	RunID  string
	NodeID string

	// Config is the typed form of Settings. Node types without a typed form get a GenericConfig.
	Config models.NodeConfig

	// Settings are the node config values after token resolution.
	Settings map[string]any

	Context *models.RunContext
}

// StepResult is what a successful execution returns. Branch selects the outgoing edge; BranchNone
// follows the default edge.
type StepResult struct {
	Branch models.Branch
	Output map[string]any
}

// StepExecutor performs the side effect of one node type. A returned error fails the step.
type StepExecutor interface {
	// Type returns the node type handled by the executor.
	Type() string

	Execute(ctx context.Context, input StepInput, logger *slog.Logger) (StepResult, error)
}
