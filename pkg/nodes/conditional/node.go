// Package conditional provides the "if" step executor, which picks the yes or no branch.
package conditional

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/condition"
	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
)

// Executor evaluates {left, op, right} and routes on the result.
type Executor struct{}

// NewExecutor creates the if executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Type returns the node type.
func (e *Executor) Type() string {
	return models.NodeTypeIf
}

// Execute compares the resolved operands. Operands whose path did not resolve compare as undefined.
func (e *Executor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.IfConfig)
	if !ok {
		return protocol.StepResult{}, fmt.Errorf("if node %s: unexpected config %T", input.NodeID, input.Config)
	}

	left := operand(input.Settings, "left", cfg.Left)
	right := operand(input.Settings, "right", cfg.Right)
	result := condition.Compare(condition.Operator(cfg.Op), left, right)

	branch := models.BranchNo
	if result {
		branch = models.BranchYes
	}

	logger.DebugContext(ctx, "condition evaluated",
		"node_id", input.NodeID, "op", cfg.Op, "result", result)

	return protocol.StepResult{
		Branch: branch,
		Output: map[string]any{
			"result": result,
			"branch": string(branch),
		},
	}, nil
}

func operand(settings map[string]any, key string, decoded any) any {
	if _, ok := settings[key]; !ok {
		return expression.Undefined
	}

	return decoded
}
