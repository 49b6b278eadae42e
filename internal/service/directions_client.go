package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
)

// ErrProviderDisabled is returned when no routing provider is configured
var ErrProviderDisabled = errors.New("directions: provider not configured")

// DirectionsClient calls the external routing provider for road-following polylines
type DirectionsClient struct {
	client  *resty.Client
	enabled bool
	logger  *zap.Logger
}

type directionsResponse struct {
	Points []domain.Coordinate `json:"points"`
}

// NewDirectionsClient creates a routing provider client; an empty baseURL disables it
func NewDirectionsClient(baseURL, apiKey string, logger *zap.Logger) *DirectionsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetQueryParam("key", apiKey)
	}

	return &DirectionsClient{client: client, enabled: baseURL != "", logger: logger}
}

// Directions returns the provider polyline from origin to destination
func (c *DirectionsClient) Directions(ctx context.Context, origin, destination domain.Coordinate) ([]domain.Coordinate, error) {
	if !c.enabled {
		return nil, ErrProviderDisabled
	}

	var out directionsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"origin":      formatCoordinate(origin),
			"destination": formatCoordinate(destination),
		}).
		SetResult(&out).
		Get("/directions")
	if err != nil {
		return nil, fmt.Errorf("directions: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("directions: provider returned status %d", resp.StatusCode())
	}
	if len(out.Points) < 2 {
		return nil, fmt.Errorf("directions: provider returned %d points", len(out.Points))
	}
	for i, p := range out.Points {
		if err := domain.ValidateCoordinate(p); err != nil {
			return nil, fmt.Errorf("directions: point %d: %w", i, err)
		}
	}

	c.logger.Debug("Directions received from provider",
		zap.Int("points", len(out.Points)),
	)
	return out.Points, nil
}

func formatCoordinate(c domain.Coordinate) string {
	return strconv.FormatFloat(c.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', 6, 64)
}
