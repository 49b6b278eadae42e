package postgres

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartcity/trafficcore/internal/domain"
)

// MemoryRepository implements domain.TrafficRepository in process memory
// for demo mode and tests. It enforces the same uniqueness and
// compare-and-swap rules as the PostgreSQL repository.
type MemoryRepository struct {
	mu          sync.RWMutex
	segments    map[string]domain.RoadSegment
	signals     []domain.AnonymizedSignal
	analyses    map[string][]domain.TrafficAnalysis
	bottlenecks map[string]domain.Bottleneck
	decisions   map[string]domain.Decision
	decisionSeq []string
	routes      map[string]domain.EmergencyRoute
}

// NewMemoryRepository creates a new in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		segments:    make(map[string]domain.RoadSegment),
		analyses:    make(map[string][]domain.TrafficAnalysis),
		bottlenecks: make(map[string]domain.Bottleneck),
		decisions:   make(map[string]domain.Decision),
		routes:      make(map[string]domain.EmergencyRoute),
	}
}

func (r *MemoryRepository) SaveSegment(ctx context.Context, seg domain.RoadSegment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[seg.ID] = seg
	return nil
}

func (r *MemoryRepository) GetSegment(ctx context.Context, id string) (domain.RoadSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seg, ok := r.segments[id]
	if !ok {
		return domain.RoadSegment{}, fmt.Errorf("memory: segment %s: %w", id, domain.ErrNotFound)
	}
	return seg, nil
}

func (r *MemoryRepository) ListSegments(ctx context.Context) ([]domain.RoadSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoadSegment, 0, len(r.segments))
	for _, seg := range r.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) SaveTrafficData(ctx context.Context, signal domain.AnonymizedSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

// TrafficData returns the stored signals for a segment
func (r *MemoryRepository) TrafficData(segmentID string) []domain.AnonymizedSignal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AnonymizedSignal
	for _, s := range r.signals {
		if s.SegmentID == segmentID {
			out = append(out, s)
		}
	}
	return out
}

func (r *MemoryRepository) SaveAnalysis(ctx context.Context, analysis domain.TrafficAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses[analysis.SegmentID] = append(r.analyses[analysis.SegmentID], analysis)
	return nil
}

func (r *MemoryRepository) LatestAnalysis(ctx context.Context, segmentID string) (*domain.TrafficAnalysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.analyses[segmentID]
	if len(history) == 0 {
		return nil, nil
	}
	latest := newestAnalysis(history)
	return &latest, nil
}

func (r *MemoryRepository) LatestAnalyses(ctx context.Context) ([]domain.TrafficAnalysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.TrafficAnalysis, 0, len(r.analyses))
	for _, history := range r.analyses {
		if len(history) > 0 {
			out = append(out, newestAnalysis(history))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out, nil
}

// newestAnalysis picks by timestamp so late batches do not shadow newer ones
func newestAnalysis(history []domain.TrafficAnalysis) domain.TrafficAnalysis {
	latest := history[0]
	for _, a := range history[1:] {
		if !a.Timestamp.Before(latest.Timestamp) {
			latest = a
		}
	}
	return latest
}

func (r *MemoryRepository) CreateBottleneck(ctx context.Context, b domain.Bottleneck) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bottlenecks {
		if existing.SegmentID == b.SegmentID && !existing.Resolved {
			return fmt.Errorf("memory: segment %s: %w", b.SegmentID, domain.ErrDuplicateBottleneck)
		}
	}
	r.bottlenecks[b.ID] = b
	return nil
}

func (r *MemoryRepository) ActiveBottleneck(ctx context.Context, segmentID string) (*domain.Bottleneck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bottlenecks {
		if b.SegmentID == segmentID && !b.Resolved {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListActiveBottlenecks(ctx context.Context) ([]domain.Bottleneck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Bottleneck{}
	for _, b := range r.bottlenecks {
		if !b.Resolved {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (r *MemoryRepository) ResolveBottleneck(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bottlenecks[id]
	if !ok {
		return fmt.Errorf("memory: bottleneck %s: %w", id, domain.ErrNotFound)
	}
	b.Resolved = true
	b.ResolvedAt = &at
	r.bottlenecks[id] = b
	return nil
}

func (r *MemoryRepository) SaveDecision(ctx context.Context, d domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decisions[d.ID]; !ok {
		r.decisionSeq = append(r.decisionSeq, d.ID)
	}
	r.decisions[d.ID] = d
	return nil
}

// ListDecisions returns matching decisions, most recent first
func (r *MemoryRepository) ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]domain.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Decision{}
	for i := len(r.decisionSeq) - 1; i >= 0; i-- {
		d := r.decisions[r.decisionSeq[i]]
		if filter.SegmentID != "" && d.SegmentID != filter.SegmentID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateDecisionStatus(ctx context.Context, id string, status domain.DecisionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[id]
	if !ok {
		return fmt.Errorf("memory: decision %s: %w", id, domain.ErrNotFound)
	}
	d.Status = status
	r.decisions[id] = d
	return nil
}

func (r *MemoryRepository) SaveRoute(ctx context.Context, route domain.EmergencyRoute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.ID] = route
	return nil
}

func (r *MemoryRepository) GetRoute(ctx context.Context, id string) (domain.EmergencyRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[id]
	if !ok {
		return domain.EmergencyRoute{}, fmt.Errorf("memory: route %s: %w", id, domain.ErrNotFound)
	}
	return route, nil
}

func (r *MemoryRepository) UpdateRoute(ctx context.Context, route domain.EmergencyRoute, prevLastUpdate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.routes[route.ID]
	if !ok {
		return fmt.Errorf("memory: route %s: %w", route.ID, domain.ErrNotFound)
	}
	if !stored.LastUpdate.Equal(prevLastUpdate) {
		return fmt.Errorf("memory: route %s: %w", route.ID, domain.ErrRouteConflict)
	}
	r.routes[route.ID] = route
	return nil
}

func (r *MemoryRepository) ListActiveRoutes(ctx context.Context) ([]domain.EmergencyRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.EmergencyRoute{}
	for _, route := range r.routes {
		if route.Active {
			out = append(out, route)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Health always returns nil in memory mode
func (r *MemoryRepository) Health(ctx context.Context) error {
	return nil
}
