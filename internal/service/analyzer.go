package service

import (
	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

// Analyzer derives congestion and delay from an anonymized signal.
// It keeps no history; temporal reasoning belongs to the detector.
type Analyzer struct{}

// NewAnalyzer creates a new analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze converts a signal into a TrafficAnalysis for a segment of lengthKm
func (a *Analyzer) Analyze(signal domain.AnonymizedSignal, freeFlowSpeedKmh, lengthKm float64) domain.TrafficAnalysis {
	index := domain.CongestionIndex(signal.AvgSpeed, freeFlowSpeedKmh)

	return domain.TrafficAnalysis{
		SegmentID:         signal.SegmentID,
		Timestamp:         signal.Timestamp,
		CongestionIndex:   utils.RoundTo(index, 2),
		CongestionLevel:   domain.CongestionLevel(index),
		DelayMinutes:      utils.RoundTo(domain.DelayMinutes(lengthKm, signal.AvgSpeed, freeFlowSpeedKmh), 2),
		AvgSpeed:          signal.AvgSpeed,
		Density:           signal.Density,
		MovementDirection: signal.MovementDirection,
	}
}
