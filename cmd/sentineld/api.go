package main

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/citygrid/sentinel/pkg/web"
)

// App builds the admin API server.
func (r *Runtime) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		r.logger,
		r.router,
		r.engine,
		r.kernel,
		r.policies,
		r.resources,
		r.auditLog,
		r.store,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sentinel API")
	})

	app.Post("/events/:channel", handlers.IngestEvent)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)

	p := app.Group("/policies")
	p.Get("/", handlers.GetPolicies)
	p.Post("/", handlers.CreatePolicy)

	res := app.Group("/resources")
	res.Get("/", handlers.GetResources)
	res.Post("/", handlers.CreateResource)
	res.Post("/:id/release", handlers.ReleaseResource)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/abort", handlers.AbortExecution)

	k := app.Group("/kernel")
	k.Get("/", handlers.GetKernel)
	k.Post("/start", handlers.StartKernel)
	k.Post("/stop", handlers.StopKernel)
	k.Post("/pause", handlers.PauseKernel)
	k.Post("/resume", handlers.ResumeKernel)

	app.Get("/queue", handlers.GetQueue)
	app.Get("/history", handlers.GetHistory)
	app.Get("/audit", handlers.GetAudit)
	app.Get("/checks", handlers.GetChecks)
	app.Get("/stats", handlers.GetStats)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", handlers.HealthCheck)

	return app
}
