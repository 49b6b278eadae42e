package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
)

// cellPaddingKm widens each segment's congestion cell beyond half its length
const cellPaddingKm = 0.2

// RouteService owns the lifecycle of emergency routes
type RouteService struct {
	repo      TrafficRepository
	provider  DirectionsProvider
	notifier  Notifier
	router    *EmergencyRouter
	logger    *zap.Logger
	routeLock *KeyedMutex
	now       func() time.Time
}

// NewRouteService creates a new route service
func NewRouteService(
	repo TrafficRepository,
	provider DirectionsProvider,
	notifier Notifier,
	router *EmergencyRouter,
	logger *zap.Logger,
) *RouteService {
	return &RouteService{
		repo:      repo,
		provider:  provider,
		notifier:  notifier,
		router:    router,
		logger:    logger,
		routeLock: NewKeyedMutex(),
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (s *RouteService) WithClock(now func() time.Time) *RouteService {
	s.now = now
	return s
}

// Request computes and stores a new active route. The provider polyline is
// preferred; interpolation is the fallback when the provider fails.
func (s *RouteService) Request(ctx context.Context, origin, destination domain.Coordinate) (domain.EmergencyRoute, error) {
	if err := domain.ValidateCoordinate(origin); err != nil {
		return domain.EmergencyRoute{}, fmt.Errorf("origin: %w", err)
	}
	if err := domain.ValidateCoordinate(destination); err != nil {
		return domain.EmergencyRoute{}, fmt.Errorf("destination: %w", err)
	}

	cmap, err := s.CongestionMap(ctx)
	if err != nil {
		return domain.EmergencyRoute{}, err
	}

	var route domain.EmergencyRoute
	path, err := s.provider.Directions(ctx, origin, destination)
	if err != nil {
		if !errors.Is(err, ErrProviderDisabled) {
			s.logger.Warn("Routing provider failed, using interpolated route", zap.Error(err))
		}
		route = s.router.CalculateRoute(origin, destination, cmap, s.now())
	} else {
		route = s.router.CalculateRouteAlong(path, cmap, s.now())
		route.Origin, route.Destination = origin, destination
	}

	if err := s.repo.SaveRoute(ctx, route); err != nil {
		return domain.EmergencyRoute{}, fmt.Errorf("routes: failed to save route: %w", err)
	}
	s.notifyIfHighRisk(ctx, route)

	s.logger.Info("Emergency route created",
		zap.String("route_id", route.ID),
		zap.String("source", string(route.Source)),
		zap.Float64("distance_km", route.DistanceKm),
		zap.Float64("estimated_time_minutes", route.EstimatedTimeMinutes),
	)
	return route, nil
}

// Get returns a stored route
func (s *RouteService) Get(ctx context.Context, id string) (domain.EmergencyRoute, error) {
	return s.repo.GetRoute(ctx, id)
}

// Refresh recomputes the route when its interval has elapsed. Requests that
// arrive early are a no-op and report refreshed=false.
func (s *RouteService) Refresh(ctx context.Context, id string) (domain.EmergencyRoute, bool, error) {
	unlock := s.routeLock.Lock(id)
	defer unlock()

	existing, err := s.repo.GetRoute(ctx, id)
	if err != nil {
		return domain.EmergencyRoute{}, false, err
	}
	if !existing.Active {
		return existing, false, nil
	}

	cmap, err := s.CongestionMap(ctx)
	if err != nil {
		return domain.EmergencyRoute{}, false, err
	}

	updated, err := s.router.UpdateRouteIfDue(existing, cmap, s.now())
	if errors.Is(err, domain.ErrStaleRouteRequest) {
		return existing, false, nil
	}
	if err != nil {
		return domain.EmergencyRoute{}, false, err
	}
	if err := s.repo.UpdateRoute(ctx, updated, existing.LastUpdate); err != nil {
		return domain.EmergencyRoute{}, false, fmt.Errorf("routes: failed to update route %s: %w", id, err)
	}
	s.notifyIfHighRisk(ctx, updated)
	return updated, true, nil
}

// RefreshDue refreshes every active route whose interval has elapsed
func (s *RouteService) RefreshDue(ctx context.Context) (int, error) {
	routes, err := s.repo.ListActiveRoutes(ctx)
	if err != nil {
		return 0, fmt.Errorf("routes: failed to list active routes: %w", err)
	}

	refreshed := 0
	now := s.now()
	for _, r := range routes {
		if !s.router.ShouldUpdate(r, now) {
			continue
		}
		_, ok, err := s.Refresh(ctx, r.ID)
		if err != nil {
			if errors.Is(err, domain.ErrRouteConflict) {
				continue
			}
			s.logger.Error("Route refresh failed", zap.String("route_id", r.ID), zap.Error(err))
			continue
		}
		if ok {
			refreshed++
		}
	}
	return refreshed, nil
}

// Deactivate ends a route's lifecycle
func (s *RouteService) Deactivate(ctx context.Context, id string) error {
	unlock := s.routeLock.Lock(id)
	defer unlock()

	route, err := s.repo.GetRoute(ctx, id)
	if err != nil {
		return err
	}
	prev := route.LastUpdate
	route.Active = false
	if err := s.repo.UpdateRoute(ctx, route, prev); err != nil {
		return fmt.Errorf("routes: failed to deactivate route %s: %w", id, err)
	}
	return nil
}

// CongestionMap builds the live congestion snapshot from the latest analyses
func (s *RouteService) CongestionMap(ctx context.Context) (domain.CongestionMap, error) {
	segments, err := s.repo.ListSegments(ctx)
	if err != nil {
		return domain.CongestionMap{}, fmt.Errorf("routes: failed to list segments: %w", err)
	}
	analyses, err := s.repo.LatestAnalyses(ctx)
	if err != nil {
		return domain.CongestionMap{}, fmt.Errorf("routes: failed to load analyses: %w", err)
	}
	return BuildCongestionMap(segments, analyses), nil
}

// BuildCongestionMap places one cell at each analysed segment's midpoint
func BuildCongestionMap(segments []domain.RoadSegment, analyses []domain.TrafficAnalysis) domain.CongestionMap {
	byID := make(map[string]domain.RoadSegment, len(segments))
	for _, seg := range segments {
		byID[seg.ID] = seg
	}

	cmap := domain.CongestionMap{Cells: make([]domain.CongestionCell, 0, len(analyses))}
	for _, a := range analyses {
		seg, ok := byID[a.SegmentID]
		if !ok {
			continue
		}
		cmap.Cells = append(cmap.Cells, domain.CongestionCell{
			SegmentID:       seg.ID,
			Center:          seg.Midpoint(),
			RadiusKm:        seg.LengthKm/2 + cellPaddingKm,
			CongestionIndex: a.CongestionIndex,
		})
	}
	return cmap
}

func (s *RouteService) notifyIfHighRisk(ctx context.Context, route domain.EmergencyRoute) {
	if domain.SeverityFor(route.MaxCongestion()) != domain.SeverityCritical {
		return
	}
	if err := s.notifier.HighRiskRoute(ctx, route); err != nil {
		s.logger.Warn("Failed to notify high-risk route", zap.String("route_id", route.ID), zap.Error(err))
	}
}
