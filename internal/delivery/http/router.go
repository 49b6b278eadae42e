package http

import (
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler) {
	// Health check
	app.Get("/health", handler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	{
		// Ingestion boundary
		api.Post("/observations", handler.IngestObservation)

		// Dashboard endpoints
		api.Get("/segments", handler.ListSegments)
		api.Get("/segments/:id/overview", handler.GetSegmentOverview)
		api.Get("/bottlenecks", handler.ListBottlenecks)
		api.Get("/decisions", handler.ListDecisions)
		api.Patch("/decisions/:id", handler.UpdateDecisionStatus)

		// Emergency routing
		api.Post("/routes", handler.RequestRoute)
		api.Get("/routes/:id", handler.GetRoute)
		api.Post("/routes/:id/refresh", handler.RefreshRoute)
		api.Delete("/routes/:id", handler.DeactivateRoute)
	}
}
