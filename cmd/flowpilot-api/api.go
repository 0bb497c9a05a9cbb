// Package main provides the flowpilot API server: trigger ingestion and run inspection.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	matcher     web.Matcher
	eventBus    eventbus.EventPublisher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	matcher web.Matcher,
	eventBus eventbus.EventPublisher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		matcher:     matcher,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.matcher,
		a.persistence.RunRepository(),
		a.eventBus,
		a.persistence,
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowpilot API")
	})

	e := app.Group("/events")
	e.Post("/document-completed", handlers.DocumentCompleted)
	e.Post("/email", handlers.EmailInbound)
	e.Post("/slack", handlers.SlackMessage)
	e.Post("/fic", handlers.FicEvent)

	app.Post("/companies/:companyId/workflows/:workflowId/runs", handlers.ManualRun)
	app.Get("/runs/:id", handlers.GetRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
