package service

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	// DefaultBaseSpeedKmh is the nominal emergency-vehicle speed with no congestion
	DefaultBaseSpeedKmh = 50.0

	interpolationStepKm = 0.5
	maxRoutePoints      = 200
)

// EmergencyRouter builds and re-derives emergency routes from a congestion map.
// It performs no I/O; the routing provider is called by RouteService.
type EmergencyRouter struct {
	baseSpeedKmh   float64
	updateInterval time.Duration
}

// NewEmergencyRouter creates a router; non-positive arguments select the defaults
func NewEmergencyRouter(baseSpeedKmh float64, updateInterval time.Duration) *EmergencyRouter {
	if baseSpeedKmh <= 0 {
		baseSpeedKmh = DefaultBaseSpeedKmh
	}
	if updateInterval <= 0 {
		updateInterval = domain.DefaultRouteUpdateInterval
	}
	return &EmergencyRouter{baseSpeedKmh: baseSpeedKmh, updateInterval: updateInterval}
}

// CalculateRoute interpolates a straight line from origin to destination
func (r *EmergencyRouter) CalculateRoute(origin, destination domain.Coordinate, cmap domain.CongestionMap, now time.Time) domain.EmergencyRoute {
	route := domain.EmergencyRoute{
		ID:                uuid.NewString(),
		Origin:            origin,
		Destination:       destination,
		Source:            domain.SourceInterpolated,
		UpdateIntervalSec: int(r.updateInterval / time.Second),
		Active:            true,
	}
	r.build(&route, Interpolate(origin, destination), cmap, now)
	return route
}

// CalculateRouteAlong annotates and times a provider-supplied polyline
func (r *EmergencyRouter) CalculateRouteAlong(path []domain.Coordinate, cmap domain.CongestionMap, now time.Time) domain.EmergencyRoute {
	route := domain.EmergencyRoute{
		ID:                uuid.NewString(),
		Source:            domain.SourceProvider,
		UpdateIntervalSec: int(r.updateInterval / time.Second),
		Active:            true,
	}
	if len(path) > 0 {
		route.Origin = path[0]
		route.Destination = path[len(path)-1]
	}
	r.build(&route, path, cmap, now)
	return route
}

// ShouldUpdate reports whether the route's update interval has elapsed
func (r *EmergencyRouter) ShouldUpdate(route domain.EmergencyRoute, now time.Time) bool {
	return now.Sub(route.LastUpdate) >= route.Interval()
}

// UpdateRoute recomputes the whole route from the current congestion map.
// Callers check ShouldUpdate first; this method does not gate on it.
func (r *EmergencyRouter) UpdateRoute(existing domain.EmergencyRoute, cmap domain.CongestionMap, now time.Time) domain.EmergencyRoute {
	updated := domain.EmergencyRoute{
		ID:                existing.ID,
		Origin:            existing.Origin,
		Destination:       existing.Destination,
		Source:            existing.Source,
		UpdateIntervalSec: existing.UpdateIntervalSec,
		Active:            existing.Active,
	}

	path := Interpolate(existing.Origin, existing.Destination)
	if existing.Source == domain.SourceProvider && len(existing.Points) >= 2 {
		path = existing.Path()
	}
	r.build(&updated, path, cmap, now)
	return updated
}

// UpdateRouteIfDue is UpdateRoute behind the ShouldUpdate precondition.
// It returns domain.ErrStaleRouteRequest and the unchanged route when the interval has not elapsed,
// and domain.ErrInvalidInput when the stored endpoints cannot be routed.
func (r *EmergencyRouter) UpdateRouteIfDue(existing domain.EmergencyRoute, cmap domain.CongestionMap, now time.Time) (domain.EmergencyRoute, error) {
	if !r.ShouldUpdate(existing, now) {
		return existing, domain.ErrStaleRouteRequest
	}
	if err := domain.ValidateCoordinate(existing.Origin); err != nil {
		return existing, fmt.Errorf("route %s origin: %w", existing.ID, err)
	}
	if err := domain.ValidateCoordinate(existing.Destination); err != nil {
		return existing, fmt.Errorf("route %s destination: %w", existing.ID, err)
	}
	return r.UpdateRoute(existing, cmap, now), nil
}

func (r *EmergencyRouter) build(route *domain.EmergencyRoute, path []domain.Coordinate, cmap domain.CongestionMap, now time.Time) {
	points := make([]domain.RoutePoint, len(path))
	for i, c := range path {
		points[i] = domain.RoutePoint{Coordinate: c, CongestionIndex: utils.RoundTo(cmap.IndexAt(c), 2)}
	}

	var distance, baseHours, hours float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		leg := utils.Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		legIndex := (a.CongestionIndex + b.CongestionIndex) / 2

		distance += leg
		baseHours += leg / r.baseSpeedKmh
		hours += leg / (r.baseSpeedKmh * domain.SpeedRatioForIndex(legIndex))
	}

	route.Points = points
	route.DistanceKm = utils.RoundTo(distance, 3)
	route.BaseTimeMinutes = utils.RoundTo(baseHours*60, 2)
	route.EstimatedTimeMinutes = math.Max(utils.RoundTo(hours*60, 2), route.BaseTimeMinutes)
	route.LastUpdate = now
}

// Interpolate returns evenly spaced points from origin to destination inclusive
func Interpolate(origin, destination domain.Coordinate) []domain.Coordinate {
	distance := utils.Haversine(origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)
	steps := int(math.Ceil(distance / interpolationStepKm))
	if steps < 1 {
		steps = 1
	}
	if steps > maxRoutePoints-1 {
		steps = maxRoutePoints - 1
	}

	path := make([]domain.Coordinate, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		path[i] = domain.Coordinate{
			Latitude:  utils.Lerp(origin.Latitude, destination.Latitude, t),
			Longitude: utils.Lerp(origin.Longitude, destination.Longitude, t),
		}
	}
	path[steps] = destination
	return path
}
