package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Matcher turns an inbound event into queued runs.
type Matcher interface {
	Match(ctx context.Context, event models.InboundEvent) ([]*models.WorkflowRun, error)
}

// RunReader loads a run with its steps.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
}

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	matcher   Matcher
	runs      RunReader
	publisher eventbus.EventPublisher
	health    HealthChecker
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	matcher Matcher,
	runs RunReader,
	publisher eventbus.EventPublisher,
	health HealthChecker,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		matcher:   matcher,
		runs:      runs,
		publisher: publisher,
		health:    health,
		validator: validator,
		logger:    logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "flowpilot API is healthy"
	httpStatus := http.StatusOK
	repositoryCheck := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "flowpilot API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) DocumentCompleted(c fiber.Ctx) error {
	var event models.DocumentCompletedEvent

	return h.ingest(c, &event)
}

func (h *APIHandlers) EmailInbound(c fiber.Ctx) error {
	var event models.EmailInboundEvent

	return h.ingest(c, &event)
}

func (h *APIHandlers) SlackMessage(c fiber.Ctx) error {
	var event models.SlackMessageEvent

	return h.ingest(c, &event)
}

func (h *APIHandlers) FicEvent(c fiber.Ctx) error {
	var event models.FicEvent

	return h.ingest(c, &event)
}

func (h *APIHandlers) ManualRun(c fiber.Ctx) error {
	var req ManualRunRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	event := models.ManualEvent{
		CompanyID:  c.Params("companyId"),
		WorkflowID: c.Params("workflowId"),
		Payload:    req.Payload,
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	return h.accept(c, event)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")

	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runs.GetRun(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newRunResponse(run))
}

// ingest binds and validates an inbound event body, then matches it.
func (h *APIHandlers) ingest(c fiber.Ctx, event models.InboundEvent) error {
	if err := c.Bind().JSON(event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	return h.accept(c, event)
}

// accept matches the event and enqueues one task per created run. A failed enqueue is only logged: the
// run is already persisted as queued and the sweeper will enqueue it again.
func (h *APIHandlers) accept(c fiber.Ctx, event models.InboundEvent) error {
	ctx := c.Context()

	created, err := h.matcher.Match(ctx, event)
	if err != nil && len(created) == 0 {
		return handleServiceError(c, err)
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "some matched workflows failed to start",
			"trigger_type", event.TriggerType(), "created", len(created), "error", err)
	}

	ids := make([]string, 0, len(created))

	for _, run := range created {
		ids = append(ids, run.ID)

		publishErr := h.publisher.Publish(ctx, run.ID, events.NewRunQueued(run))
		if publishErr != nil {
			h.logger.ErrorContext(ctx, "Failed to enqueue run", "run_id", run.ID, "error", publishErr)
		}
	}

	h.logger.InfoContext(ctx, "Inbound event accepted", "trigger_type", event.TriggerType(), "runs", len(ids))

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{RunIDs: ids})
}
