package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	delivery "github.com/smartcity/trafficcore/internal/delivery/http"
	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/notify"
	"github.com/smartcity/trafficcore/internal/repository/postgres"
	"github.com/smartcity/trafficcore/internal/service"
)

type flatForecaster struct{}

func (flatForecaster) Forecast(ctx context.Context, seg domain.RoadSegment, current domain.TrafficAnalysis) ([]domain.Prediction, error) {
	return nil, nil
}

type failingHealth struct{}

func (failingHealth) Health(ctx context.Context) error { return errors.New("unreachable") }

func newTestApp(t *testing.T, checks map[string]delivery.HealthChecker) (*fiber.App, *postgres.MemoryRepository) {
	t.Helper()

	repo := postgres.NewMemoryRepository()
	require.NoError(t, postgres.Seed(context.Background(), repo, postgres.AlmatySegments()))

	logger := zap.NewNop()
	notifier := notify.NewLogNotifier(logger)
	pipeline := service.NewPipelineService(repo, flatForecaster{}, notifier, logger)
	dashboard := service.NewDashboardService(repo, logger)
	routes := service.NewRouteService(repo, service.NewDirectionsClient("", "", logger), notifier,
		service.NewEmergencyRouter(0, 0), logger)

	if checks == nil {
		checks = map[string]delivery.HealthChecker{"repository": repo}
	}

	app := fiber.New(fiber.Config{ErrorHandler: delivery.ErrorHandler})
	delivery.SetupRoutes(app, delivery.NewHandler(pipeline, dashboard, routes, checks))
	return app, repo
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*nethttp.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func batch(segmentID string, devices int, speed float64) domain.RawObservation {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	raw := domain.RawObservation{SegmentID: segmentID}
	for i := 0; i < devices; i++ {
		raw.Devices = append(raw.Devices, domain.DeviceSample{
			DeviceID:  fmt.Sprintf("dev-%d", i),
			Latitude:  43.218,
			Longitude: 76.85 + float64(i)*0.0001,
			Speed:     speed,
			Timestamp: at.Add(time.Duration(i) * time.Second),
		})
	}
	return raw
}

func TestHealthCheck(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodGet, "/health", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthCheck_OptionalDependencyDegradesWithout503(t *testing.T) {
	app, _ := newTestApp(t, map[string]delivery.HealthChecker{
		"repository": postgres.NewMemoryRepository(),
		"ml_service": failingHealth{},
	})

	resp, body := doJSON(t, app, fiber.MethodGet, "/health", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, "unreachable", deps["ml_service"])
}

func TestHealthCheck_RepositoryDown(t *testing.T) {
	app, _ := newTestApp(t, map[string]delivery.HealthChecker{"repository": failingHealth{}})

	resp, body := doJSON(t, app, fiber.MethodGet, "/health", nil)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestIngestObservation(t *testing.T) {
	app, repo := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/observations", batch("al-farabi-e-1", 40, 30))

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["skipped"])
	analysis := data["analysis"].(map[string]interface{})
	assert.Greater(t, analysis["congestion_index"].(float64), 50.0)
	assert.Len(t, repo.TrafficData("al-farabi-e-1"), 1)
}

func TestIngestObservation_BelowPrivacyFloorIsSkipped(t *testing.T) {
	app, repo := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/observations", batch("al-farabi-e-1", 5, 30))

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["skipped"])
	assert.Equal(t, service.SkipReasonInsufficientData, data["reason"])
	assert.Empty(t, repo.TrafficData("al-farabi-e-1"))
}

func TestIngestObservation_Errors(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/observations", batch("no-such-segment", 40, 30))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, true, body["error"])

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/observations", domain.RawObservation{SegmentID: "al-farabi-e-1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/observations", bytes.NewBufferString("{broken"))
	req.Header.Set("Content-Type", "application/json")
	raw, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, raw.StatusCode)
}

func TestSegmentsAndOverview(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/v1/segments", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, len(postgres.AlmatySegments()), body["count"])

	resp, body = doJSON(t, app, fiber.MethodGet, "/api/v1/segments/dostyk-n-1/overview", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Nil(t, data["latest_analysis"])

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/v1/segments/missing/overview", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDecisions(t *testing.T) {
	app, repo := newTestApp(t, nil)
	require.NoError(t, repo.SaveDecision(context.Background(), domain.Decision{
		ID: "d-1", SegmentID: "al-farabi-e-1", Type: domain.DecisionSignalAdjustment, Status: domain.StatusPending,
	}))

	resp, body := doJSON(t, app, fiber.MethodGet, "/api/v1/decisions?status=pending", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/v1/decisions?status=bogus", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPatch, "/api/v1/decisions/d-1", map[string]string{"status": "approved"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	got, err := repo.ListDecisions(context.Background(), domain.DecisionFilter{Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, got, 1)

	resp, _ = doJSON(t, app, fiber.MethodPatch, "/api/v1/decisions/d-1", map[string]string{"status": "maybe"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPatch, "/api/v1/decisions/missing", map[string]string{"status": "rejected"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRouteLifecycle(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/routes", map[string]interface{}{
		"origin":      map[string]float64{"lat": 43.238, "lng": 76.889},
		"destination": map[string]float64{"lat": 43.256, "lng": 76.945},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	route := body["data"].(map[string]interface{})
	id := route["id"].(string)
	assert.Equal(t, string(domain.SourceInterpolated), route["source"])
	assert.GreaterOrEqual(t, route["estimated_time_minutes"].(float64), route["base_time_minutes"].(float64))

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/v1/routes/"+id, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, fiber.MethodPost, "/api/v1/routes/"+id+"/refresh", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["refreshed"])

	resp, _ = doJSON(t, app, fiber.MethodDelete, "/api/v1/routes/"+id, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, app, fiber.MethodGet, "/api/v1/routes/"+id, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["data"].(map[string]interface{})["active"])
}

func TestRouteRequest_Validation(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/routes", map[string]interface{}{
		"origin": map[string]float64{"lat": 43.238, "lng": 76.889},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/routes", map[string]interface{}{
		"origin":      map[string]float64{"lat": 143.0, "lng": 76.889},
		"destination": map[string]float64{"lat": 43.256, "lng": 76.945},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/v1/routes/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestErrorHandler_Conflict(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: delivery.ErrorHandler})
	app.Get("/conflict", func(c *fiber.Ctx) error {
		return fmt.Errorf("routes: %w", domain.ErrRouteConflict)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("database exploded")
	})

	resp, _ := doJSON(t, app, fiber.MethodGet, "/conflict", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodGet, "/boom", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", body["message"])
}
