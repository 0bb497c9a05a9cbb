// Package dispatcher advances a workflow run by exactly one step per invocation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BranchOutputKey is set on a step's output when its executor picked a branch.
const BranchOutputKey = "branch"

var ErrNodeNotInDefinition = errors.New("step references a node missing from the run definition")

// RunStore is the subset of the run lifecycle the dispatcher drives.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	BeginStep(ctx context.Context, runID, nodeID string) (bool, error)
	CompleteStep(ctx context.Context, runID, nodeID string, output map[string]any) (bool, error)
	FailStep(ctx context.Context, runID, nodeID string, cause error) (bool, error)
	SkipSteps(ctx context.Context, runID string, nodeIDs ...string) (int, error)
	AdvanceRun(ctx context.Context, runID, nodeID string) (bool, error)
	CompleteRun(ctx context.Context, runID string) (bool, error)
	FailRun(ctx context.Context, runID string, cause error) (bool, error)
}

// Executors looks up the executor for a node type.
type Executors interface {
	Get(nodeType string) (protocol.StepExecutor, error)
}

// Outcome reports what one invocation did.
type Outcome struct {
	RunID string

	// NodeID is the node executed by this invocation, empty when nothing ran.
	NodeID string
	Branch models.Branch

	// NextNodeID is where the run continues. Empty once the run is terminal.
	NextNodeID string
	RunStatus  models.RunStatus

	// NoOp is set when another invocation already owns or finished the work.
	NoOp bool
}

// Terminal reports whether the run finished.
func (o Outcome) Terminal() bool {
	return o.RunStatus.IsTerminal()
}

// HasMore reports whether another invocation is needed.
func (o Outcome) HasMore() bool {
	return !o.Terminal() && o.NextNodeID != ""
}

type Dispatcher struct {
	runs      RunStore
	executors Executors
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewDispatcher(runs RunStore, executors Executors, tracer trace.Tracer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runs:      runs,
		executors: executors,
		tracer:    tracer,
		logger:    logger.With("module", "dispatcher"),
	}
}

// Dispatch executes the run's current step and moves the cursor to the next node. Step and executor
// failures are recorded on the run and are not returned; returned errors are persistence failures and
// the caller is expected to retry.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string) (Outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch", attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	outcome, err := d.dispatch(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return outcome, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.NodeIDKey, outcome.NodeID),
		attribute.String(otelhelper.BranchKey, string(outcome.Branch)),
	)

	return outcome, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, runID string) (Outcome, error) {
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return Outcome{RunID: runID}, fmt.Errorf("failed to load run: %w", err)
	}

	outcome := Outcome{RunID: run.ID, RunStatus: run.Status}
	logger := d.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID, "company_id", run.CompanyID)

	if run.Status.IsTerminal() {
		logger.DebugContext(ctx, "run already finished", "status", run.Status)

		outcome.NoOp = true

		return outcome, nil
	}

	step, ok := d.currentStep(run)
	if !ok {
		return d.complete(ctx, logger, outcome)
	}

	logger = logger.With("node_id", step.NodeID)

	switch step.Status {
	case models.StepStatusPending:
		return d.execute(ctx, logger, run, step)
	case models.StepStatusCompleted:
		// A previous invocation completed the step but stopped before moving the cursor.
		branch := models.Branch(cast.ToString(step.Output[BranchOutputKey]))

		return d.advance(ctx, logger, run, step.NodeID, branch)
	case models.StepStatusFailed:
		return d.fail(ctx, logger, outcome, step.NodeID, errors.New(step.Error))
	case models.StepStatusRunning:
		logger.InfoContext(ctx, "step is already running elsewhere")

		outcome.NoOp = true
		outcome.NextNodeID = step.NodeID

		return outcome, nil
	default:
		logger.WarnContext(ctx, "cursor points at a skipped step, completing run")

		return d.complete(ctx, logger, outcome)
	}
}

// currentStep returns the step under the cursor, or the first pending step before the cursor is set.
func (d *Dispatcher) currentStep(run *models.WorkflowRun) (*models.WorkflowRunStep, bool) {
	if run.CurrentNodeID != "" {
		if step, ok := run.Step(run.CurrentNodeID); ok {
			return step, true
		}
	}

	return run.FirstPendingStep()
}

func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, run *models.WorkflowRun, step *models.WorkflowRunStep) (Outcome, error) {
	outcome := Outcome{RunID: run.ID, NodeID: step.NodeID, RunStatus: models.RunStatusRunning}

	changed, err := d.runs.BeginStep(ctx, run.ID, step.NodeID)
	if err != nil {
		return outcome, err
	}

	if !changed {
		logger.InfoContext(ctx, "step was claimed by another invocation")

		outcome.NoOp = true
		outcome.NextNodeID = step.NodeID

		return outcome, nil
	}

	node, ok := run.Definition.Node(step.NodeID)
	if !ok {
		return d.failStep(ctx, logger, outcome, fmt.Errorf("%w: %s", ErrNodeNotInDefinition, step.NodeID))
	}

	logger = logger.With("node_type", node.Type)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.NodeTypeKey, node.Type))

	runCtx := run.Context()
	settings := expression.Settings(node.Config, runCtx)

	config, err := models.DecodeNodeConfig(node.Type, settings)
	if err != nil {
		return d.failStep(ctx, logger, outcome, err)
	}

	executor, err := d.executors.Get(node.Type)
	if err != nil {
		return d.failStep(ctx, logger, outcome, err)
	}

	logger.InfoContext(ctx, "executing step")

	result, err := executor.Execute(ctx, protocol.StepInput{
		RunID:    run.ID,
		NodeID:   node.ID,
		Config:   config,
		Settings: settings,
		Context:  runCtx,
	}, logger)
	if err != nil {
		return d.failStep(ctx, logger, outcome, err)
	}

	if result.Branch != models.BranchNone && !models.BranchAllowed(node.Type, result.Branch) {
		return d.failStep(ctx, logger, outcome, fmt.Errorf("%w: %s on %s node", models.ErrBranchOutOfScope, result.Branch, node.Type))
	}

	output := result.Output
	if output == nil {
		output = map[string]any{}
	}

	if result.Branch != models.BranchNone {
		output[BranchOutputKey] = string(result.Branch)
	}

	_, err = d.runs.CompleteStep(ctx, run.ID, node.ID, output)
	if err != nil {
		return outcome, err
	}

	return d.advance(ctx, logger, run, node.ID, result.Branch)
}

// advance moves the cursor to the successor of nodeID, completing the run when there is none.
func (d *Dispatcher) advance(ctx context.Context, logger *slog.Logger, run *models.WorkflowRun, nodeID string, branch models.Branch) (Outcome, error) {
	outcome := Outcome{RunID: run.ID, NodeID: nodeID, Branch: branch, RunStatus: models.RunStatusRunning}

	next, ok := NextNode(&run.Definition, nodeID, branch)
	if !ok {
		return d.complete(ctx, logger, outcome)
	}

	nextStep, ok := run.Step(next)
	if !ok || next == nodeID || nextStep.Status != models.StepStatusPending {
		logger.WarnContext(ctx, "next node was already visited, completing run", "next_node_id", next)

		return d.complete(ctx, logger, outcome)
	}

	_, err := d.runs.AdvanceRun(ctx, run.ID, next)
	if err != nil {
		return outcome, err
	}

	logger.DebugContext(ctx, "run advanced", "next_node_id", next, "branch", branch)

	outcome.NextNodeID = next

	return outcome, nil
}

func (d *Dispatcher) complete(ctx context.Context, logger *slog.Logger, outcome Outcome) (Outcome, error) {
	_, err := d.runs.SkipSteps(ctx, outcome.RunID)
	if err != nil {
		return outcome, err
	}

	_, err = d.runs.CompleteRun(ctx, outcome.RunID)
	if err != nil {
		return outcome, err
	}

	logger.InfoContext(ctx, "run completed")

	outcome.RunStatus = models.RunStatusCompleted
	outcome.NextNodeID = ""

	return outcome, nil
}

// failStep records an execution failure on the running step and stops the run.
func (d *Dispatcher) failStep(ctx context.Context, logger *slog.Logger, outcome Outcome, cause error) (Outcome, error) {
	_, err := d.runs.FailStep(ctx, outcome.RunID, outcome.NodeID, cause)
	if err != nil {
		return outcome, err
	}

	return d.fail(ctx, logger, outcome, outcome.NodeID, cause)
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, outcome Outcome, nodeID string, cause error) (Outcome, error) {
	_, err := d.runs.SkipSteps(ctx, outcome.RunID)
	if err != nil {
		return outcome, err
	}

	_, err = d.runs.FailRun(ctx, outcome.RunID, fmt.Errorf("step %s failed: %w", nodeID, cause))
	if err != nil {
		return outcome, err
	}

	logger.WarnContext(ctx, "run failed", "node_id", nodeID, "error", cause)

	outcome.NodeID = nodeID
	outcome.RunStatus = models.RunStatusFailed
	outcome.NextNodeID = ""

	return outcome, nil
}
