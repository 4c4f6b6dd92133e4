// Package main provides the Creatye API server: automation management and the provider webhook.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/services"
	"github.com/ogabrielsv/creatye/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	verifyToken string
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	verifyToken string,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		verifyToken: verifyToken,
	}
}

func (a *API) App() *fiber.App {
	automationService := services.NewAutomation(a.persistence)
	publishingService := services.NewPublishing(a.persistence)

	handlers := web.NewAPIHandlers(automationService, publishingService, a.validate)

	var publisher eventbus.EventPublisher
	if a.eventBus != nil {
		publisher = a.eventBus
	}

	webhooks := web.NewWebhookHandlers(a.persistence, publisher, a.verifyToken, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Creatye API")
	})

	g := app.Group("/automations")
	g.Get("/", handlers.GetAutomations)
	g.Post("/", handlers.CreateAutomation)
	g.Get("/:id", handlers.GetAutomation)
	g.Put("/:id/graph", handlers.UpdateGraph)
	g.Put("/:id/triggers", handlers.UpdateTriggers)
	g.Post("/:id/publish", handlers.PublishAutomation)
	g.Post("/:id/pause", handlers.PauseAutomation)
	g.Post("/:id/resume", handlers.ResumeAutomation)
	g.Delete("/:id", handlers.DeleteAutomation)
	g.Get("/:id/versions", handlers.GetVersions)
	g.Get("/:id/executions", handlers.GetExecutions)

	app.Get("/executions/:id", handlers.GetExecution)

	w := app.Group("/webhooks")
	w.Get("/instagram", webhooks.Verify)
	w.Post("/instagram", webhooks.Receive)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
