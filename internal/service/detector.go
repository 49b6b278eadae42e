package service

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	// SpeedDropThresholdPct is the drop, as a share of free-flow speed, that must be exceeded
	SpeedDropThresholdPct = 40.0

	// degradedSpeedRatio: a previous analysis at or above this share of free flow is free-flowing
	degradedSpeedRatio = 0.95

	extentLengthMultiplier = 3.0
	maxBackwardExtentKm    = 10.0
)

// BottleneckDetector compares consecutive analyses of one segment.
// It does not check for existing unresolved bottlenecks; the caller must.
type BottleneckDetector struct{}

// NewBottleneckDetector creates a new detector
func NewBottleneckDetector() *BottleneckDetector {
	return &BottleneckDetector{}
}

// Detect returns a bottleneck when the speed drop from previous to current is
// significant and previous was already degraded. It returns (nil, nil) when
// nothing fires and domain.ErrInsufficientHistory when previous is nil.
func (d *BottleneckDetector) Detect(seg domain.RoadSegment, current domain.TrafficAnalysis, previous *domain.TrafficAnalysis) (*domain.Bottleneck, error) {
	if previous == nil {
		return nil, domain.ErrInsufficientHistory
	}
	if previous.SegmentID != current.SegmentID || current.SegmentID != seg.ID {
		return nil, fmt.Errorf("%w: analyses belong to different segments", domain.ErrInvalidInput)
	}
	if !previous.Timestamp.Before(current.Timestamp) {
		return nil, fmt.Errorf("%w: previous analysis is not older than current", domain.ErrInvalidInput)
	}
	free := seg.FreeFlowSpeedKmh
	if free <= 0 {
		return nil, fmt.Errorf("%w: free-flow speed must be positive", domain.ErrInvalidInput)
	}

	dropPct := (previous.AvgSpeed - current.AvgSpeed) / free * 100
	if dropPct <= SpeedDropThresholdPct {
		return nil, nil
	}
	// a drop out of free flow is a single noisy sample until it is confirmed
	if previous.AvgSpeed >= free*degradedSpeedRatio {
		return nil, nil
	}

	return &domain.Bottleneck{
		ID:               uuid.NewString(),
		SegmentID:        seg.ID,
		DetectedAt:       current.Timestamp,
		Origin:           seg.Midpoint(),
		Severity:         domain.SeverityFor(math.Max(current.CongestionIndex, dropPct)),
		SpeedDropPct:     utils.RoundTo(dropPct, 2),
		BackwardExtentKm: utils.RoundTo(BackwardExtent(seg.LengthKm, current.CongestionIndex), 3),
	}, nil
}

// BackwardExtent estimates how far upstream a slowdown propagates
func BackwardExtent(lengthKm, congestionIndex float64) float64 {
	if lengthKm <= 0 {
		return 0
	}
	idx := utils.Clamp(congestionIndex, 0, 100)
	return math.Min(lengthKm*extentLengthMultiplier*idx/100, maxBackwardExtentKm)
}

// LinkBackwardExtent returns a copy of b annotated with the upstream segments,
// ordered nearest first, that fall within its backward extent
func (d *BottleneckDetector) LinkBackwardExtent(b domain.Bottleneck, upstream []domain.RoadSegment) domain.Bottleneck {
	out := b
	out.UpstreamSegmentIDs = []string{}

	var covered float64
	for _, seg := range upstream {
		if covered >= b.BackwardExtentKm {
			break
		}
		out.UpstreamSegmentIDs = append(out.UpstreamSegmentIDs, seg.ID)
		covered += seg.LengthKm
	}
	return out
}
