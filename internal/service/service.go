package service

import (
	"context"

	"github.com/smartcity/trafficcore/internal/domain"
)

// TrafficRepository is re-exported from domain for convenience
type TrafficRepository = domain.TrafficRepository

// Notifier is re-exported from domain for convenience
type Notifier = domain.Notifier

// Forecaster supplies near-term congestion predictions for a segment
type Forecaster interface {
	Forecast(ctx context.Context, seg domain.RoadSegment, current domain.TrafficAnalysis) ([]domain.Prediction, error)
}

// DirectionsProvider supplies a road-following polyline between two points
type DirectionsProvider interface {
	Directions(ctx context.Context, origin, destination domain.Coordinate) ([]domain.Coordinate, error)
}
