package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
)

// DashboardService aggregates the live state of segments for the dashboard
type DashboardService struct {
	repo   TrafficRepository
	logger *zap.Logger
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(repo TrafficRepository, logger *zap.Logger) *DashboardService {
	return &DashboardService{repo: repo, logger: logger}
}

// GetSegmentOverview fetches analysis, bottleneck and pending decisions concurrently
func (s *DashboardService) GetSegmentOverview(ctx context.Context, segmentID string) (domain.SegmentOverview, error) {
	seg, err := s.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return domain.SegmentOverview{}, err
	}

	var (
		overview = domain.SegmentOverview{Segment: seg, PendingDecisions: []domain.Decision{}}
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a, err := s.repo.LatestAnalysis(ctx, segmentID)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		overview.LatestAnalysis = a
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := s.repo.ActiveBottleneck(ctx, segmentID)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		overview.ActiveBottleneck = b
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ds, err := s.repo.ListDecisions(ctx, domain.DecisionFilter{SegmentID: segmentID, Status: domain.StatusPending, Limit: 20})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		if ds != nil {
			overview.PendingDecisions = ds
		}
	}()

	wg.Wait()

	// Even with errors, return what we have
	for _, err := range errs {
		s.logger.Warn("Overview fetch error", zap.String("segment_id", segmentID), zap.Error(err))
	}
	overview.Timestamp = time.Now()
	if len(errs) == 3 {
		return overview, errors.Join(errs...)
	}
	return overview, nil
}

// ListSegments returns all configured segments
func (s *DashboardService) ListSegments(ctx context.Context) ([]domain.RoadSegment, error) {
	return s.repo.ListSegments(ctx)
}

// ListActiveBottlenecks returns every unresolved bottleneck
func (s *DashboardService) ListActiveBottlenecks(ctx context.Context) ([]domain.Bottleneck, error) {
	return s.repo.ListActiveBottlenecks(ctx)
}

// ListDecisions returns decisions matching filter
func (s *DashboardService) ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]domain.Decision, error) {
	return s.repo.ListDecisions(ctx, filter)
}

// UpdateDecisionStatus records the outcome of the external approval workflow
func (s *DashboardService) UpdateDecisionStatus(ctx context.Context, id string, status domain.DecisionStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	return s.repo.UpdateDecisionStatus(ctx, id, status)
}
