package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartcity/trafficcore/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testSegment() domain.RoadSegment {
	return domain.RoadSegment{
		ID:               "seg-1",
		RoadName:         "Al-Farabi Avenue",
		Direction:        "E",
		Start:            domain.Coordinate{Latitude: 43.2180, Longitude: 76.8500},
		End:              domain.Coordinate{Latitude: 43.2180, Longitude: 76.9120},
		LengthKm:         5,
		FreeFlowSpeedKmh: 80,
		HasSignalControl: true,
	}
}

// deviceBatch builds n distinct devices moving east at speed, ending at `at`
func deviceBatch(segmentID string, n int, speed float64, at time.Time) domain.RawObservation {
	raw := domain.RawObservation{SegmentID: segmentID}
	for i := 0; i < n; i++ {
		raw.Devices = append(raw.Devices, domain.DeviceSample{
			DeviceID:  fmt.Sprintf("dev-%d", i),
			Latitude:  43.218,
			Longitude: 76.85 + float64(i)*0.001,
			Speed:     speed,
			Timestamp: at.Add(-time.Duration(n-1-i) * time.Second),
		})
	}
	return raw
}

func analysisAt(segmentID string, avg, free float64, at time.Time) domain.TrafficAnalysis {
	return domain.TrafficAnalysis{
		SegmentID:       segmentID,
		Timestamp:       at,
		AvgSpeed:        avg,
		CongestionIndex: domain.CongestionIndex(avg, free),
		DelayMinutes:    domain.DelayMinutes(5, avg, free),
	}
}

type stubForecaster struct {
	predictions []domain.Prediction
	err         error
}

func (f stubForecaster) Forecast(ctx context.Context, seg domain.RoadSegment, current domain.TrafficAnalysis) ([]domain.Prediction, error) {
	return f.predictions, f.err
}

type recordingNotifier struct {
	mu          sync.Mutex
	bottlenecks []domain.Bottleneck
	decisions   []domain.Decision
	routes      []domain.EmergencyRoute
}

func (n *recordingNotifier) BottleneckDetected(ctx context.Context, b domain.Bottleneck) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bottlenecks = append(n.bottlenecks, b)
	return nil
}

func (n *recordingNotifier) DecisionRecommended(ctx context.Context, d domain.Decision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
	return nil
}

func (n *recordingNotifier) HighRiskRoute(ctx context.Context, r domain.EmergencyRoute) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, r)
	return nil
}

func confidence(v float64) *float64 { return &v }
