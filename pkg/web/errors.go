package web

import (
	"errors"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/trigger"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps matcher and persistence errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, trigger.ErrUnsupportedEvent):
		return badRequest(c, err.Error())

	case errors.Is(err, trigger.ErrWorkflowInactive):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("workflow_inactive").
			WithDetail("workflow is not active")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsRunNotFound(err):
		return notFound(c, "run_not_found", "run not found")

	default:
		return internalError(c, err)
	}
}
