package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/service"
)

func TestDetect(t *testing.T) {
	seg := testSegment()

	tests := []struct {
		name         string
		prevSpeed    float64
		curSpeed     float64
		wantDetected bool
		minSeverity  domain.Severity
	}{
		{name: "steady free flow", prevSpeed: 78, curSpeed: 76},
		{name: "drop out of free flow is not confirmed", prevSpeed: 80, curSpeed: 20},
		{name: "drop at threshold does not fire", prevSpeed: 60, curSpeed: 28},
		{name: "degraded to crawl", prevSpeed: 60, curSpeed: 20, wantDetected: true, minSeverity: domain.SeverityHigh},
		{name: "sharp collapse", prevSpeed: 70, curSpeed: 20, wantDetected: true, minSeverity: domain.SeverityHigh},
		{name: "speed recovering", prevSpeed: 20, curSpeed: 60},
	}

	d := service.NewBottleneckDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := analysisAt(seg.ID, tt.prevSpeed, seg.FreeFlowSpeedKmh, t0)
			cur := analysisAt(seg.ID, tt.curSpeed, seg.FreeFlowSpeedKmh, t0.Add(time.Minute))

			b, err := d.Detect(seg, cur, &prev)

			require.NoError(t, err)
			if !tt.wantDetected {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.True(t, b.Severity.AtLeast(tt.minSeverity), "severity %s", b.Severity)
			assert.Equal(t, seg.ID, b.SegmentID)
			assert.Equal(t, cur.Timestamp, b.DetectedAt)
			assert.Equal(t, seg.Midpoint(), b.Origin)
			assert.Greater(t, b.SpeedDropPct, service.SpeedDropThresholdPct)
			assert.False(t, b.Resolved)
			assert.NotEmpty(t, b.ID)
		})
	}
}

func TestDetect_InsufficientHistory(t *testing.T) {
	seg := testSegment()
	cur := analysisAt(seg.ID, 20, 80, t0)

	b, err := service.NewBottleneckDetector().Detect(seg, cur, nil)

	assert.Nil(t, b)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestDetect_RejectsInconsistentInput(t *testing.T) {
	seg := testSegment()
	d := service.NewBottleneckDetector()

	prev := analysisAt("other", 60, 80, t0)
	_, err := d.Detect(seg, analysisAt(seg.ID, 20, 80, t0.Add(time.Minute)), &prev)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	later := analysisAt(seg.ID, 60, 80, t0.Add(time.Hour))
	_, err = d.Detect(seg, analysisAt(seg.ID, 20, 80, t0), &later)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	zero := seg
	zero.FreeFlowSpeedKmh = 0
	ok := analysisAt(seg.ID, 60, 80, t0)
	_, err = d.Detect(zero, analysisAt(seg.ID, 20, 80, t0.Add(time.Minute)), &ok)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBackwardExtent(t *testing.T) {
	assert.InDelta(t, 3.0, service.BackwardExtent(2, 50), 1e-9)
	assert.InDelta(t, 10.0, service.BackwardExtent(8, 90), 1e-9)
	assert.Zero(t, service.BackwardExtent(0, 90))
	assert.Zero(t, service.BackwardExtent(2, 0))
}

func TestLinkBackwardExtent(t *testing.T) {
	d := service.NewBottleneckDetector()
	upstream := []domain.RoadSegment{
		{ID: "up-1", LengthKm: 1.5},
		{ID: "up-2", LengthKm: 1.5},
		{ID: "up-3", LengthKm: 1.5},
	}
	b := domain.Bottleneck{ID: "b-1", BackwardExtentKm: 2.0}

	linked := d.LinkBackwardExtent(b, upstream)

	assert.Equal(t, []string{"up-1", "up-2"}, linked.UpstreamSegmentIDs)
	assert.Empty(t, b.UpstreamSegmentIDs, "input must not be mutated")

	none := d.LinkBackwardExtent(domain.Bottleneck{BackwardExtentKm: 0}, upstream)
	assert.Empty(t, none.UpstreamSegmentIDs)
}

func TestLinkBackwardExtent_UnlinkedIsEmptyNotNil(t *testing.T) {
	d := service.NewBottleneckDetector()

	noChain := d.LinkBackwardExtent(domain.Bottleneck{ID: "b-1", BackwardExtentKm: 3}, nil)
	require.NotNil(t, noChain.UpstreamSegmentIDs)
	assert.Empty(t, noChain.UpstreamSegmentIDs)

	noExtent := d.LinkBackwardExtent(domain.Bottleneck{ID: "b-2"}, []domain.RoadSegment{{ID: "up-1", LengthKm: 1}})
	require.NotNil(t, noExtent.UpstreamSegmentIDs)
	assert.Empty(t, noExtent.UpstreamSegmentIDs)
}
