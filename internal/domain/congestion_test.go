package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartcity/trafficcore/internal/domain"
)

func TestCongestionIndex(t *testing.T) {
	tests := []struct {
		avg, free, want float64
	}{
		{avg: 80, free: 80, want: 0},
		{avg: 100, free: 80, want: 0},
		{avg: 40, free: 80, want: 75},
		{avg: 20, free: 80, want: 93.75},
		{avg: 0, free: 80, want: 100},
		{avg: -5, free: 80, want: 100},
		{avg: 30, free: 0, want: 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, domain.CongestionIndex(tt.avg, tt.free), 1e-9, "avg=%v free=%v", tt.avg, tt.free)
	}
}

func TestSpeedRatioForIndex_InvertsCurve(t *testing.T) {
	for _, idx := range []float64{0, 25, 50, 75, 90} {
		r := domain.SpeedRatioForIndex(idx)
		assert.InDelta(t, idx, domain.CongestionIndex(r*80, 80), 1e-9)
	}
	assert.InDelta(t, 0.1, domain.SpeedRatioForIndex(100), 1e-9)
	assert.False(t, math.IsNaN(domain.SpeedRatioForIndex(150)))
}

func TestDelayMinutes(t *testing.T) {
	assert.InDelta(t, 11.25, domain.DelayMinutes(5, 20, 80), 1e-9)
	assert.Zero(t, domain.DelayMinutes(5, 90, 80))
	assert.Zero(t, domain.DelayMinutes(0, 20, 80))
	assert.InDelta(t, domain.DelayMinutes(5, domain.MinCrawlSpeedKmh, 80), domain.DelayMinutes(5, 0, 80), 1e-9)
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, domain.SeverityCritical, domain.SeverityFor(85))
	assert.Equal(t, domain.SeverityHigh, domain.SeverityFor(84.99))
	assert.Equal(t, domain.SeverityHigh, domain.SeverityFor(75))
	assert.Equal(t, domain.SeverityMedium, domain.SeverityFor(60))
	assert.Equal(t, domain.SeverityLow, domain.SeverityFor(59.9))

	assert.True(t, domain.SeverityCritical.AtLeast(domain.SeverityHigh))
	assert.False(t, domain.SeverityMedium.AtLeast(domain.SeverityHigh))
}

func TestCongestionLevel(t *testing.T) {
	assert.Equal(t, "Severe", domain.CongestionLevel(93))
	assert.Equal(t, "Heavy", domain.CongestionLevel(60))
	assert.Equal(t, "Moderate", domain.CongestionLevel(45))
	assert.Equal(t, "Light", domain.CongestionLevel(20))
	assert.Equal(t, "Free Flow", domain.CongestionLevel(5))
}
