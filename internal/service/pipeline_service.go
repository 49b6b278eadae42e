package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	// resolveBelowIndex: an unresolved bottleneck is closed once congestion drops under it
	resolveBelowIndex = domain.MediumCutoff

	upstreamJoinToleranceKm = 0.05
	maxUpstreamSegments     = 10
)

// SkipReasonInsufficientData marks a batch refused by the privacy floor
const SkipReasonInsufficientData = "insufficient_data"

// IngestResult reports what one ingestion cycle produced
type IngestResult struct {
	Skipped            bool                     `json:"skipped"`
	Reason             string                   `json:"reason,omitempty"`
	Signal             *domain.AnonymizedSignal `json:"signal,omitempty"`
	Analysis           *domain.TrafficAnalysis  `json:"analysis,omitempty"`
	Bottleneck         *domain.Bottleneck       `json:"bottleneck,omitempty"`
	ResolvedBottleneck string                   `json:"resolved_bottleneck,omitempty"`
	Decisions          []domain.Decision        `json:"decisions"`
	BestDecision       *domain.Decision         `json:"best_decision,omitempty"`
}

// PipelineService runs raw samples through the core and persists the results
type PipelineService struct {
	repo       TrafficRepository
	forecaster Forecaster
	notifier   Notifier
	logger     *zap.Logger

	anonymizer *Anonymizer
	analyzer   *Analyzer
	detector   *BottleneckDetector
	engine     *DecisionEngine

	segmentLocks *KeyedMutex
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	repo TrafficRepository,
	forecaster Forecaster,
	notifier Notifier,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		repo:         repo,
		forecaster:   forecaster,
		notifier:     notifier,
		logger:       logger,
		anonymizer:   NewAnonymizer(),
		analyzer:     NewAnalyzer(),
		detector:     NewBottleneckDetector(),
		engine:       NewDecisionEngine(),
		segmentLocks: NewKeyedMutex(),
	}
}

// Ingest processes one device batch. Privacy refusals and missing history
// degrade to a skipped or partial result, never an error.
func (s *PipelineService) Ingest(ctx context.Context, raw domain.RawObservation) (IngestResult, error) {
	if err := domain.ValidateObservation(raw); err != nil {
		return IngestResult{}, err
	}

	seg, err := s.repo.GetSegment(ctx, raw.SegmentID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: segment %s: %w", raw.SegmentID, err)
	}

	signal, err := s.anonymizer.Anonymize(raw, seg.LengthKm)
	if errors.Is(err, domain.ErrPrivacyViolation) {
		s.logger.Info("Batch below k-anonymity floor, skipping cycle",
			zap.String("segment_id", seg.ID),
			zap.Int("samples", len(raw.Devices)),
		)
		return IngestResult{Skipped: true, Reason: SkipReasonInsufficientData}, nil
	}
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.anonymizer.ValidatePrivacyCompliance(signal); err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: %w", err)
	}

	unlock := s.segmentLocks.Lock(seg.ID)
	defer unlock()

	if err := s.repo.SaveTrafficData(ctx, signal); err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: failed to save traffic data: %w", err)
	}

	analysis := s.analyzer.Analyze(signal, seg.FreeFlowSpeedKmh, seg.LengthKm)
	previous, err := s.repo.LatestAnalysis(ctx, seg.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: failed to load previous analysis: %w", err)
	}
	if err := s.repo.SaveAnalysis(ctx, analysis); err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: failed to save analysis: %w", err)
	}

	result := IngestResult{Signal: &signal, Analysis: &analysis}

	active, err := s.updateBottleneck(ctx, seg, analysis, previous, &result)
	if err != nil {
		return IngestResult{}, err
	}

	predictions, err := s.forecaster.Forecast(ctx, seg, analysis)
	if err != nil {
		s.logger.Warn("Forecast unavailable", zap.String("segment_id", seg.ID), zap.Error(err))
		predictions = nil
	}

	result.Decisions = s.engine.GenerateDecisions(seg, analysis, active, predictions)
	for _, d := range result.Decisions {
		if err := s.repo.SaveDecision(ctx, d); err != nil {
			return IngestResult{}, fmt.Errorf("pipeline: failed to save decision: %w", err)
		}
	}
	result.BestDecision = s.engine.SelectBest(result.Decisions)
	if result.BestDecision != nil {
		if err := s.notifier.DecisionRecommended(ctx, *result.BestDecision); err != nil {
			s.logger.Warn("Failed to notify decision", zap.String("decision_id", result.BestDecision.ID), zap.Error(err))
		}
	}

	s.logger.Debug("Segment analysed",
		zap.String("segment_id", seg.ID),
		zap.Float64("congestion_index", analysis.CongestionIndex),
		zap.Float64("delay_minutes", analysis.DelayMinutes),
		zap.Int("decisions", len(result.Decisions)),
	)
	return result, nil
}

// updateBottleneck runs detection under the segment lock and returns the active bottleneck, if any
func (s *PipelineService) updateBottleneck(
	ctx context.Context,
	seg domain.RoadSegment,
	analysis domain.TrafficAnalysis,
	previous *domain.TrafficAnalysis,
	result *IngestResult,
) (*domain.Bottleneck, error) {
	existing, err := s.repo.ActiveBottleneck(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to load active bottleneck: %w", err)
	}

	detected, err := s.detector.Detect(seg, analysis, previous)
	switch {
	case errors.Is(err, domain.ErrInsufficientHistory):
		detected = nil
	case errors.Is(err, domain.ErrInvalidInput):
		s.logger.Warn("Skipping bottleneck detection", zap.String("segment_id", seg.ID), zap.Error(err))
		detected = nil
	case err != nil:
		return nil, err
	}

	if detected != nil && existing == nil {
		segments, err := s.repo.ListSegments(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: failed to list segments: %w", err)
		}
		linked := s.detector.LinkBackwardExtent(*detected, UpstreamChain(segments, seg))

		if err := s.repo.CreateBottleneck(ctx, linked); err != nil {
			if errors.Is(err, domain.ErrDuplicateBottleneck) {
				return s.repo.ActiveBottleneck(ctx, seg.ID)
			}
			return nil, fmt.Errorf("pipeline: failed to create bottleneck: %w", err)
		}
		result.Bottleneck = &linked
		if err := s.notifier.BottleneckDetected(ctx, linked); err != nil {
			s.logger.Warn("Failed to notify bottleneck", zap.String("bottleneck_id", linked.ID), zap.Error(err))
		}
		s.logger.Info("Bottleneck detected",
			zap.String("segment_id", seg.ID),
			zap.String("severity", string(linked.Severity)),
			zap.Float64("speed_drop_pct", linked.SpeedDropPct),
			zap.Float64("backward_extent_km", linked.BackwardExtentKm),
		)
		return &linked, nil
	}

	if detected == nil && existing != nil && analysis.CongestionIndex < resolveBelowIndex {
		if err := s.repo.ResolveBottleneck(ctx, existing.ID, analysis.Timestamp); err != nil {
			return nil, fmt.Errorf("pipeline: failed to resolve bottleneck: %w", err)
		}
		result.ResolvedBottleneck = existing.ID
		s.logger.Info("Bottleneck resolved", zap.String("segment_id", seg.ID), zap.String("bottleneck_id", existing.ID))
		return nil, nil
	}

	return existing, nil
}

// UpstreamChain walks backwards along segments of the same road and direction,
// nearest first, joining a segment whose end touches the current start
func UpstreamChain(all []domain.RoadSegment, seg domain.RoadSegment) []domain.RoadSegment {
	var chain []domain.RoadSegment
	visited := map[string]bool{seg.ID: true}
	cur := seg

	for len(chain) < maxUpstreamSegments {
		var next *domain.RoadSegment
		for i := range all {
			cand := all[i]
			if visited[cand.ID] || cand.RoadName != seg.RoadName || cand.Direction != seg.Direction {
				continue
			}
			gap := utils.Haversine(cand.End.Latitude, cand.End.Longitude, cur.Start.Latitude, cur.Start.Longitude)
			if gap <= upstreamJoinToleranceKm {
				next = &cand
				break
			}
		}
		if next == nil {
			break
		}
		visited[next.ID] = true
		chain = append(chain, *next)
		cur = *next
	}
	return chain
}
