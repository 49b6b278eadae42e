package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
)

// LogNotifier writes events to the structured log when no stream is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) BottleneckDetected(ctx context.Context, b domain.Bottleneck) error {
	n.logger.Info(KindBottleneck,
		zap.String("bottleneck_id", b.ID),
		zap.String("segment_id", b.SegmentID),
		zap.String("severity", string(b.Severity)),
		zap.Strings("upstream_segment_ids", b.UpstreamSegmentIDs),
	)
	return nil
}

func (n *LogNotifier) DecisionRecommended(ctx context.Context, d domain.Decision) error {
	n.logger.Info(KindDecision,
		zap.String("decision_id", d.ID),
		zap.String("segment_id", d.SegmentID),
		zap.String("decision_type", string(d.Type)),
		zap.Float64("expected_benefit_score", d.ExpectedBenefitScore),
	)
	return nil
}

func (n *LogNotifier) HighRiskRoute(ctx context.Context, r domain.EmergencyRoute) error {
	n.logger.Warn(KindHighRiskRoute,
		zap.String("route_id", r.ID),
		zap.Float64("max_congestion", r.MaxCongestion()),
		zap.Float64("estimated_time_minutes", r.EstimatedTimeMinutes),
	)
	return nil
}
