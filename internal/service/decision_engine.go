package service

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	signalAdjustmentThreshold = 50.0
	signalConfidence          = 0.8
	diversionConfidence       = 0.75
	maxDiversionShare         = 0.8

	minTrendPredictions     = 3
	interventionPeakIndex   = domain.MediumCutoff
	interventionShare       = 0.3
	defaultPredictionWeight = 0.7

	// benefitScale is the delay reduction (minutes) that earns ~63% of the magnitude term
	benefitScale = 5.0
)

// DecisionEngine proposes and ranks mitigation actions for one segment
type DecisionEngine struct{}

// NewDecisionEngine creates a new decision engine
func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{}
}

// GenerateDecisions proposes every applicable action; none are mutually exclusive.
// All decisions start pending.
func (e *DecisionEngine) GenerateDecisions(
	seg domain.RoadSegment,
	analysis domain.TrafficAnalysis,
	bottleneck *domain.Bottleneck,
	predictions []domain.Prediction,
) []domain.Decision {
	var decisions []domain.Decision

	if d, ok := e.signalAdjustment(seg, analysis); ok {
		decisions = append(decisions, d)
	}
	if d, ok := e.diversion(seg, analysis, bottleneck); ok {
		decisions = append(decisions, d)
	}
	if d, ok := e.intervention(seg, analysis, predictions); ok {
		decisions = append(decisions, d)
	}

	return decisions
}

func (e *DecisionEngine) signalAdjustment(seg domain.RoadSegment, a domain.TrafficAnalysis) (domain.Decision, bool) {
	if !seg.HasSignalControl || a.CongestionIndex <= signalAdjustmentThreshold {
		return domain.Decision{}, false
	}
	excess := (a.CongestionIndex - signalAdjustmentThreshold) / (100 - signalAdjustmentThreshold)
	reduction := a.DelayMinutes * (0.10 + 0.20*excess)

	d := newDecision(seg.ID, domain.DecisionSignalAdjustment, a, reduction, signalConfidence)
	d.AffectedSegments = []string{seg.ID}
	d.Details.Signal = &domain.SignalAdjustmentDetails{
		GreenExtensionSec: int(math.Round(10 + 20*excess)),
		CongestionIndex:   a.CongestionIndex,
	}
	return d, true
}

func (e *DecisionEngine) diversion(seg domain.RoadSegment, a domain.TrafficAnalysis, b *domain.Bottleneck) (domain.Decision, bool) {
	if b == nil || b.Resolved {
		return domain.Decision{}, false
	}
	extentFactor := math.Min(b.BackwardExtentKm/5, 1)
	share := (0.20 + 0.30*b.Severity.Weight()) * (1 + 0.5*extentFactor)
	reduction := a.DelayMinutes * math.Min(share, maxDiversionShare)

	d := newDecision(seg.ID, domain.DecisionDiversion, a, reduction, diversionConfidence)
	d.AffectedSegments = append([]string{seg.ID}, b.UpstreamSegmentIDs...)
	d.Details.Diversion = &domain.DiversionDetails{
		BottleneckID:     b.ID,
		Severity:         b.Severity,
		BackwardExtentKm: b.BackwardExtentKm,
	}
	return d, true
}

func (e *DecisionEngine) intervention(seg domain.RoadSegment, a domain.TrafficAnalysis, predictions []domain.Prediction) (domain.Decision, bool) {
	if len(predictions) < minTrendPredictions {
		return domain.Decision{}, false
	}

	sorted := make([]domain.Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].HorizonMin < sorted[j].HorizonMin })

	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	confidences := make([]float64, len(sorted))
	peak := sorted[0]
	for i, p := range sorted {
		xs[i] = float64(p.HorizonMin)
		ys[i] = p.CongestionScore
		confidences[i] = defaultPredictionWeight
		if p.Confidence != nil {
			confidences[i] = utils.Clamp(*p.Confidence, 0, 1)
		}
		if p.CongestionScore > peak.CongestionScore {
			peak = p
		}
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || slope <= 0 {
		return domain.Decision{}, false
	}
	if peak.CongestionScore < interventionPeakIndex || peak.CongestionScore <= a.CongestionIndex {
		return domain.Decision{}, false
	}

	projectedSpeed := seg.FreeFlowSpeedKmh * domain.SpeedRatioForIndex(peak.CongestionScore)
	projectedDelay := domain.DelayMinutes(seg.LengthKm, projectedSpeed, seg.FreeFlowSpeedKmh)
	reduction := projectedDelay * interventionShare

	d := newDecision(seg.ID, domain.DecisionIntervention, a, reduction, stat.Mean(confidences, nil))
	d.AffectedSegments = []string{seg.ID}
	d.Details.Intervention = &domain.InterventionDetails{
		PeakPredictedIndex: peak.CongestionScore,
		PeakHorizonMin:     peak.HorizonMin,
		TrendSlope:         utils.RoundTo(slope, 4),
	}
	return d, true
}

func newDecision(segmentID string, t domain.DecisionType, a domain.TrafficAnalysis, reduction, confidence float64) domain.Decision {
	return domain.Decision{
		ID:                            uuid.NewString(),
		SegmentID:                     segmentID,
		Type:                          t,
		RecommendedAt:                 a.Timestamp,
		ExpectedDelayReductionMinutes: utils.RoundTo(reduction, 2),
		ExpectedBenefitScore:          utils.RoundTo(BenefitScore(reduction, confidence), 2),
		Status:                        domain.StatusPending,
	}
}

// BenefitScore combines delay reduction magnitude and confidence into [0, 100]
func BenefitScore(reductionMinutes, confidence float64) float64 {
	if reductionMinutes <= 0 {
		return 0
	}
	magnitude := 1 - math.Exp(-reductionMinutes/benefitScale)
	return utils.Clamp(100*magnitude*(0.5+0.5*utils.Clamp(confidence, 0, 1)), 0, 100)
}

// SelectBest picks the highest benefit score, then the highest delay reduction.
// Remaining ties fall back to type and id so the choice ignores input order.
func (e *DecisionEngine) SelectBest(decisions []domain.Decision) *domain.Decision {
	if len(decisions) == 0 {
		return nil
	}
	best := decisions[0]
	for _, d := range decisions[1:] {
		if ranksAbove(d, best) {
			best = d
		}
	}
	return &best
}

func ranksAbove(a, b domain.Decision) bool {
	if a.ExpectedBenefitScore != b.ExpectedBenefitScore {
		return a.ExpectedBenefitScore > b.ExpectedBenefitScore
	}
	if a.ExpectedDelayReductionMinutes != b.ExpectedDelayReductionMinutes {
		return a.ExpectedDelayReductionMinutes > b.ExpectedDelayReductionMinutes
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}
