package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

// Ingestor accepts device batches at the ingestion boundary
type Ingestor interface {
	Ingest(ctx context.Context, raw domain.RawObservation) (IngestResult, error)
}

// TrafficService generates synthetic device batches so the pipeline runs
// without real devices (demo mode)
type TrafficService struct {
	repo   TrafficRepository
	logger *zap.Logger
	rng    *rand.Rand
}

// NewTrafficService creates a new synthetic traffic feed
func NewTrafficService(repo TrafficRepository, logger *zap.Logger, seed int64) *TrafficService {
	return &TrafficService{
		repo:   repo,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run feeds every segment into the ingestor once per interval until ctx is done
func (s *TrafficService) Run(ctx context.Context, interval time.Duration, ingestor Ingestor) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := s.feed(ctx, t, ingestor); err != nil {
				s.logger.Error("Synthetic feed failed", zap.Error(err))
			}
		}
	}
}

func (s *TrafficService) feed(ctx context.Context, at time.Time, ingestor Ingestor) error {
	segments, err := s.repo.ListSegments(ctx)
	if err != nil {
		return fmt.Errorf("traffic: failed to list segments: %w", err)
	}
	for _, seg := range segments {
		raw := s.GenerateObservation(seg, at)
		res, err := ingestor.Ingest(ctx, raw)
		if err != nil {
			s.logger.Warn("Synthetic batch rejected", zap.String("segment_id", seg.ID), zap.Error(err))
			continue
		}
		if res.Skipped {
			s.logger.Debug("Synthetic batch skipped", zap.String("segment_id", seg.ID), zap.String("reason", res.Reason))
		}
	}
	return nil
}

// GenerateObservation creates a realistic device batch for seg at time at
func (s *TrafficService) GenerateObservation(seg domain.RoadSegment, at time.Time) domain.RawObservation {
	congestion := s.calculateCongestionIndex(at.Hour(), at.Weekday())
	meanSpeed := seg.FreeFlowSpeedKmh * domain.SpeedRatioForIndex(congestion)

	// busier roads report more devices; night traffic may fall below the privacy floor
	devices := int(math.Round(seg.LengthKm*(8+congestion/4))) + s.rng.Intn(10)
	if devices < 1 {
		devices = 1
	}

	samples := make([]domain.DeviceSample, 0, devices)
	for i := 0; i < devices; i++ {
		t := s.rng.Float64()
		speed := math.Max(0, meanSpeed*(0.85+s.rng.Float64()*0.3))
		samples = append(samples, domain.DeviceSample{
			DeviceID:  fmt.Sprintf("sim-%s-%d", seg.ID, i),
			Latitude:  utils.Lerp(seg.Start.Latitude, seg.End.Latitude, t) + (s.rng.Float64()-0.5)*0.0002,
			Longitude: utils.Lerp(seg.Start.Longitude, seg.End.Longitude, t) + (s.rng.Float64()-0.5)*0.0002,
			Speed:     utils.RoundTo(speed, 1),
			Timestamp: at.Add(-time.Duration((1-t)*60) * time.Second),
		})
	}

	return domain.RawObservation{SegmentID: seg.ID, Devices: samples}
}

// calculateCongestionIndex returns 0-100 based on time patterns
func (s *TrafficService) calculateCongestionIndex(hour int, weekday time.Weekday) float64 {
	// Weekend: less traffic
	if weekday == time.Saturday || weekday == time.Sunday {
		return 25 + s.rng.Float64()*20
	}

	// Rush hours
	switch {
	case hour >= 7 && hour <= 9: // Morning rush
		return 70 + s.rng.Float64()*25
	case hour >= 17 && hour <= 19: // Evening rush
		return 75 + s.rng.Float64()*20
	case hour >= 12 && hour <= 14: // Lunch
		return 50 + s.rng.Float64()*15
	case hour >= 22 || hour <= 5: // Night
		return 10 + s.rng.Float64()*10
	default:
		return 35 + s.rng.Float64()*20
	}
}
