package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
)

// DefaultHorizons are the forecast horizons requested per segment, in minutes
var DefaultHorizons = []int{15, 30, 45, 60}

const mockConfidence = 0.5

// MLBridge handles communication with the Python prediction service
type MLBridge struct {
	client *resty.Client
	logger *zap.Logger
}

type forecastRequest struct {
	SegmentID       string  `json:"segment_id"`
	CongestionIndex float64 `json:"congestion_index"`
	AvgSpeed        float64 `json:"avg_speed_kmh"`
	FreeFlowSpeed   float64 `json:"free_flow_speed_kmh"`
	Horizons        []int   `json:"horizons"`
}

type forecastResponse struct {
	Predictions []domain.Prediction `json:"predictions"`
}

// NewMLBridge creates a new ML bridge
func NewMLBridge(serviceURL string, logger *zap.Logger) *MLBridge {
	client := resty.New().
		SetBaseURL(serviceURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &MLBridge{client: client, logger: logger}
}

// Forecast calls the prediction service; on failure it returns a flat mock forecast
func (b *MLBridge) Forecast(ctx context.Context, seg domain.RoadSegment, current domain.TrafficAnalysis) ([]domain.Prediction, error) {
	req := forecastRequest{
		SegmentID:       seg.ID,
		CongestionIndex: current.CongestionIndex,
		AvgSpeed:        current.AvgSpeed,
		FreeFlowSpeed:   seg.FreeFlowSpeedKmh,
		Horizons:        DefaultHorizons,
	}

	var out forecastResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/predict/segment")
	if err != nil {
		b.logger.Warn("Prediction service unreachable, using mock forecast",
			zap.String("segment_id", seg.ID),
			zap.Error(err),
		)
		return b.getMockForecast(seg, current), nil
	}
	if resp.IsError() {
		b.logger.Warn("Prediction service returned error, using mock forecast",
			zap.String("segment_id", seg.ID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return b.getMockForecast(seg, current), nil
	}

	for i := range out.Predictions {
		if out.Predictions[i].SegmentID == "" {
			out.Predictions[i].SegmentID = seg.ID
		}
	}
	return out.Predictions, nil
}

// Health checks prediction service connectivity
func (b *MLBridge) Health(ctx context.Context) error {
	resp, err := b.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("ml_bridge: health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ml_bridge: health check returned status %d", resp.StatusCode())
	}
	return nil
}

// getMockForecast persists the current index across all horizons.
// A flat trend never triggers a precautionary intervention.
func (b *MLBridge) getMockForecast(seg domain.RoadSegment, current domain.TrafficAnalysis) []domain.Prediction {
	confidence := mockConfidence
	predictions := make([]domain.Prediction, 0, len(DefaultHorizons))
	for _, h := range DefaultHorizons {
		predictions = append(predictions, domain.Prediction{
			SegmentID:       seg.ID,
			HorizonMin:      h,
			CongestionScore: current.CongestionIndex,
			Confidence:      &confidence,
			IsMock:          true,
		})
	}
	return predictions
}
