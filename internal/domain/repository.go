package domain

import (
	"context"
	"time"
)

// TrafficRepository defines the persistence collaborator.
// Implementations refuse a second unresolved bottleneck per segment and
// apply route updates as a compare-and-swap on LastUpdate.
type TrafficRepository interface {
	// SaveSegment inserts or replaces a road segment
	SaveSegment(ctx context.Context, seg RoadSegment) error
	GetSegment(ctx context.Context, id string) (RoadSegment, error)
	ListSegments(ctx context.Context) ([]RoadSegment, error)

	// SaveTrafficData persists an anonymized signal
	SaveTrafficData(ctx context.Context, signal AnonymizedSignal) error

	SaveAnalysis(ctx context.Context, analysis TrafficAnalysis) error
	// LatestAnalysis returns nil when the segment has no history
	LatestAnalysis(ctx context.Context, segmentID string) (*TrafficAnalysis, error)
	LatestAnalyses(ctx context.Context) ([]TrafficAnalysis, error)

	CreateBottleneck(ctx context.Context, b Bottleneck) error
	// ActiveBottleneck returns nil when the segment has no unresolved bottleneck
	ActiveBottleneck(ctx context.Context, segmentID string) (*Bottleneck, error)
	ListActiveBottlenecks(ctx context.Context) ([]Bottleneck, error)
	ResolveBottleneck(ctx context.Context, id string, at time.Time) error

	SaveDecision(ctx context.Context, d Decision) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]Decision, error)
	UpdateDecisionStatus(ctx context.Context, id string, status DecisionStatus) error

	SaveRoute(ctx context.Context, r EmergencyRoute) error
	GetRoute(ctx context.Context, id string) (EmergencyRoute, error)
	// UpdateRoute fails with ErrRouteConflict unless the stored LastUpdate equals prevLastUpdate
	UpdateRoute(ctx context.Context, r EmergencyRoute, prevLastUpdate time.Time) error
	ListActiveRoutes(ctx context.Context) ([]EmergencyRoute, error)

	// Health checks storage connectivity
	Health(ctx context.Context) error
}

// DecisionFilter narrows ListDecisions; zero values match everything
type DecisionFilter struct {
	SegmentID string
	Status    DecisionStatus
	Limit     int
}

// Notifier is informed of new bottlenecks, decisions and high-risk routes.
// It never influences core computation.
type Notifier interface {
	BottleneckDetected(ctx context.Context, b Bottleneck) error
	DecisionRecommended(ctx context.Context, d Decision) error
	HighRiskRoute(ctx context.Context, r EmergencyRoute) error
}
