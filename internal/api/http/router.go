package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/courier-track/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Agents  *handlers.AgentsHandler
	Consent *handlers.ConsentHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	agents := app.Group("/agents")
	agents.Post("", cfg.Agents.Register)
	agents.Get("", cfg.Agents.Roster)
	agents.Delete("/:id", cfg.Agents.Delete)
	agents.Get("/:id/history", cfg.Agents.History)

	consent := app.Group("/consent")
	consent.Get("/:id", cfg.Consent.Page)
	consent.Post("/:id/approve", cfg.Consent.Approve)
	consent.Post("/:id/positions", cfg.Consent.PushPosition)
	consent.Post("/:id/sensor-error", cfg.Consent.SensorError)
	consent.Get("/:id/status", cfg.Consent.Status)
}
