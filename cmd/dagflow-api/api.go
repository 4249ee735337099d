// Package main provides the dagflow read API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/dukex/dagflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger    *slog.Logger
	workflows web.WorkflowReader
	metrics   *metrics.Metrics
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	workflows web.WorkflowReader,
	m *metrics.Metrics,
) *API {
	return &API{
		logger:    logger,
		workflows: workflows,
		metrics:   m,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("dagflow API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Starting API", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
