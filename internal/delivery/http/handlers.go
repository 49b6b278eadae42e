package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/service"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler contains all HTTP handlers
type Handler struct {
	pipeline  *service.PipelineService
	dashboard *service.DashboardService
	routes    *service.RouteService
	checks    map[string]HealthChecker
}

// NewHandler creates a new handler
func NewHandler(
	pipeline *service.PipelineService,
	dashboard *service.DashboardService,
	routes *service.RouteService,
	checks map[string]HealthChecker,
) *Handler {
	return &Handler{
		pipeline:  pipeline,
		dashboard: dashboard,
		routes:    routes,
		checks:    checks,
	}
}

type routeRequest struct {
	Origin      *domain.Coordinate `json:"origin"`
	Destination *domain.Coordinate `json:"destination"`
}

type decisionStatusRequest struct {
	Status domain.DecisionStatus `json:"status"`
}

// HealthCheck returns service health status. The repository is required;
// other dependencies are reported but never fail the check.
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	deps := fiber.Map{}
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			deps[name] = err.Error()
			if name == "repository" {
				status = fiber.StatusServiceUnavailable
			}
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":       state,
		"service":      "trafficcore",
		"version":      "1.0.0",
		"dependencies": deps,
	})
}

// IngestObservation runs one device batch through the pipeline
func (h *Handler) IngestObservation(c *fiber.Ctx) error {
	var raw domain.RawObservation
	if err := c.BodyParser(&raw); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.pipeline.Ingest(c.Context(), raw)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// ListSegments returns the configured road network
func (h *Handler) ListSegments(c *fiber.Ctx) error {
	segments, err := h.dashboard.ListSegments(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    segments,
		"count":   len(segments),
	})
}

// GetSegmentOverview returns the live state of one segment
func (h *Handler) GetSegmentOverview(c *fiber.Ctx) error {
	overview, err := h.dashboard.GetSegmentOverview(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    overview,
	})
}

// ListBottlenecks returns every unresolved bottleneck
func (h *Handler) ListBottlenecks(c *fiber.Ctx) error {
	bottlenecks, err := h.dashboard.ListActiveBottlenecks(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    bottlenecks,
		"count":   len(bottlenecks),
	})
}

// ListDecisions returns decisions, optionally filtered by segment and status
func (h *Handler) ListDecisions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultDecisionLimit)
	if limit < 1 || limit > maxDecisionLimit {
		limit = defaultDecisionLimit
	}

	filter := domain.DecisionFilter{
		SegmentID: c.Query("segment_id"),
		Status:    domain.DecisionStatus(c.Query("status")),
		Limit:     limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "Unknown decision status")
	}

	decisions, err := h.dashboard.ListDecisions(c.Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    decisions,
		"count":   len(decisions),
	})
}

// UpdateDecisionStatus applies an approval workflow transition
func (h *Handler) UpdateDecisionStatus(c *fiber.Ctx) error {
	var req decisionStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	id := c.Params("id")
	if err := h.dashboard.UpdateDecisionStatus(c.Context(), id, req.Status); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"id": id, "status": req.Status},
	})
}

// RequestRoute computes a new emergency route
func (h *Handler) RequestRoute(c *fiber.Ctx) error {
	var req routeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Origin == nil || req.Destination == nil {
		return fiber.NewError(fiber.StatusBadRequest, "origin and destination are required")
	}

	route, err := h.routes.Request(c.Context(), *req.Origin, *req.Destination)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    route,
	})
}

// GetRoute returns a stored route
func (h *Handler) GetRoute(c *fiber.Ctx) error {
	route, err := h.routes.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    route,
	})
}

// RefreshRoute recomputes a route when its update interval has elapsed
func (h *Handler) RefreshRoute(c *fiber.Ctx) error {
	route, refreshed, err := h.routes.Refresh(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"refreshed": refreshed,
		"data":      route,
	})
}

// DeactivateRoute ends a route's lifecycle
func (h *Handler) DeactivateRoute(c *fiber.Ctx) error {
	if err := h.routes.Deactivate(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ErrorHandler maps domain errors onto HTTP status codes
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case errors.Is(err, domain.ErrInvalidInput):
		code = fiber.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrNotFound):
		code = fiber.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrRouteConflict), errors.Is(err, domain.ErrDuplicateBottleneck):
		code = fiber.StatusConflict
		message = err.Error()
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
