package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/repository/postgres"
	"github.com/smartcity/trafficcore/internal/service"
)

func newPipeline(t *testing.T, forecaster service.Forecaster) (*service.PipelineService, *postgres.MemoryRepository, *recordingNotifier) {
	t.Helper()
	repo := postgres.NewMemoryRepository()
	require.NoError(t, postgres.Seed(context.Background(), repo, postgres.AlmatySegments()))
	notifier := &recordingNotifier{}
	return service.NewPipelineService(repo, forecaster, notifier, zap.NewNop()), repo, notifier
}

func TestIngest_BottleneckLifecycle(t *testing.T) {
	ctx := context.Background()
	p, repo, notifier := newPipeline(t, stubForecaster{})
	const segID = "al-farabi-e-2"

	// degraded but not jammed: first cycle has no history
	res, err := p.Ingest(ctx, deviceBatch(segID, 40, 60, t0))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	require.NotNil(t, res.Analysis)
	assert.Nil(t, res.Bottleneck)
	assert.Empty(t, res.Decisions)
	assert.Nil(t, res.BestDecision)

	// collapse to a crawl
	res, err = p.Ingest(ctx, deviceBatch(segID, 40, 20, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, res.Bottleneck)
	assert.True(t, res.Bottleneck.Severity.AtLeast(domain.SeverityHigh))
	assert.Equal(t, []string{"al-farabi-e-1"}, res.Bottleneck.UpstreamSegmentIDs)
	assert.ElementsMatch(t,
		[]domain.DecisionType{domain.DecisionSignalAdjustment, domain.DecisionDiversion},
		decisionTypes(res.Decisions))
	require.NotNil(t, res.BestDecision)
	assert.Len(t, notifier.bottlenecks, 1)
	assert.Len(t, notifier.decisions, 1)

	active, err := repo.ActiveBottleneck(ctx, segID)
	require.NoError(t, err)
	require.NotNil(t, active)
	bottleneckID := active.ID

	// still jammed: the bottleneck persists, no duplicate is raised
	res, err = p.Ingest(ctx, deviceBatch(segID, 40, 20, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Nil(t, res.Bottleneck)
	assert.Empty(t, res.ResolvedBottleneck)
	assert.Contains(t, decisionTypes(res.Decisions), domain.DecisionDiversion)
	assert.Len(t, notifier.bottlenecks, 1)

	// traffic clears
	res, err = p.Ingest(ctx, deviceBatch(segID, 40, 70, t0.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, bottleneckID, res.ResolvedBottleneck)
	active, err = repo.ActiveBottleneck(ctx, segID)
	require.NoError(t, err)
	assert.Nil(t, active)

	stored, err := repo.ListDecisions(ctx, domain.DecisionFilter{SegmentID: segID})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(stored), 4)
	for _, d := range stored {
		assert.Equal(t, domain.StatusPending, d.Status)
	}
	assert.Len(t, repo.TrafficData(segID), 4)
}

func TestIngest_PrivacyFloorSkipsCycle(t *testing.T) {
	ctx := context.Background()
	p, repo, notifier := newPipeline(t, stubForecaster{})

	res, err := p.Ingest(ctx, deviceBatch("dostyk-n-1", domain.KAnonymityFloor-1, 10, t0))

	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, service.SkipReasonInsufficientData, res.Reason)
	assert.Nil(t, res.Signal)
	assert.Empty(t, repo.TrafficData("dostyk-n-1"))
	latest, err := repo.LatestAnalysis(ctx, "dostyk-n-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Empty(t, notifier.decisions)
}

func TestIngest_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t, stubForecaster{})

	_, err := p.Ingest(ctx, deviceBatch("no-such-segment", 40, 30, t0))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bad := deviceBatch("dostyk-n-1", 40, 30, t0)
	bad.Devices[3].Speed = -4
	_, err = p.Ingest(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = p.Ingest(ctx, domain.RawObservation{SegmentID: "dostyk-n-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngest_ForecastDrivesIntervention(t *testing.T) {
	ctx := context.Background()
	forecast := stubForecaster{predictions: []domain.Prediction{
		{HorizonMin: 15, CongestionScore: 50, Confidence: confidence(0.8)},
		{HorizonMin: 30, CongestionScore: 65, Confidence: confidence(0.8)},
		{HorizonMin: 45, CongestionScore: 78, Confidence: confidence(0.8)},
		{HorizonMin: 60, CongestionScore: 88, Confidence: confidence(0.8)},
	}}
	p, _, _ := newPipeline(t, forecast)

	// bypass has no signals, so only the forecast can propose anything
	res, err := p.Ingest(ctx, deviceBatch("east-bypass-n-1", 40, 75, t0))

	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, domain.DecisionIntervention, res.Decisions[0].Type)
	assert.Equal(t, res.Decisions[0].ID, res.BestDecision.ID)
}

func TestIngest_ForecastFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPipeline(t, stubForecaster{err: errors.New("model offline")})

	res, err := p.Ingest(ctx, deviceBatch("al-farabi-e-1", 40, 25, t0))

	require.NoError(t, err)
	assert.Contains(t, decisionTypes(res.Decisions), domain.DecisionSignalAdjustment)
}

func TestIngest_ConcurrentCyclesRaiseOneBottleneck(t *testing.T) {
	ctx := context.Background()
	p, repo, notifier := newPipeline(t, stubForecaster{})
	const segID = "al-farabi-e-3"

	_, err := p.Ingest(ctx, deviceBatch(segID, 40, 60, t0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Ingest(ctx, deviceBatch(segID, 40, 20, t0.Add(time.Duration(i)*time.Minute)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := repo.ListActiveBottlenecks(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, notifier.bottlenecks, 1)
}

func TestUpstreamChain(t *testing.T) {
	segments := postgres.AlmatySegments()
	byID := map[string]domain.RoadSegment{}
	for _, s := range segments {
		byID[s.ID] = s
	}

	chain := service.UpstreamChain(segments, byID["al-farabi-e-3"])
	ids := make([]string, len(chain))
	for i, s := range chain {
		ids[i] = s.ID
	}

	assert.Equal(t, []string{"al-farabi-e-2", "al-farabi-e-1"}, ids)
	assert.Empty(t, service.UpstreamChain(segments, byID["dostyk-n-1"]))
}
