// Package log provides the log step executor.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Executor writes an interpolated message to the worker log.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Type() string {
	return models.NodeTypeLog
}

// Execute logs the message at the configured level, info by default.
func (e *Executor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepResult, error) {
	cfg, ok := input.Config.(models.LogConfig)
	if !ok {
		return protocol.StepResult{}, fmt.Errorf("log node %s: unexpected config %T", input.NodeID, input.Config)
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}

	message := expression.Interpolate(cfg.Message, input.Context)

	logger.Log(ctx, levels[level], message, "node_id", input.NodeID, "node_type", models.NodeTypeLog)

	return protocol.StepResult{
		Output: map[string]any{
			"message": message,
			"level":   level,
			"logged":  true,
		},
	}, nil
}
