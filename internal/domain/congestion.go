package domain

import "math"

const (
	// KAnonymityFloor is the minimum number of distinct devices behind a signal.
	KAnonymityFloor = 30

	// MinCrawlSpeedKmh bounds delay estimates when traffic is at a standstill.
	MinCrawlSpeedKmh = 5.0

	// minSpeedRatio keeps inverse lookups finite.
	minSpeedRatio = 0.1
)

// Severity tiers shared by the detector and the decision engine
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity cut points on a 0-100 score
const (
	CriticalCutoff = 85.0
	HighCutoff     = 75.0
	MediumCutoff   = 60.0
)

// SeverityFor buckets a 0-100 score into a severity tier
func SeverityFor(score float64) Severity {
	switch {
	case score >= CriticalCutoff:
		return SeverityCritical
	case score >= HighCutoff:
		return SeverityHigh
	case score >= MediumCutoff:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Weight maps a severity to (0, 1]
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Weight() >= other.Weight()
}

// CongestionIndex maps avg/free-flow speed to a 0-100 score.
// index = 100 * (1 - r²) with r clamped to [0, 1].
func CongestionIndex(avgSpeed, freeFlowSpeed float64) float64 {
	if freeFlowSpeed <= 0 {
		return 0
	}
	r := clamp01(avgSpeed / freeFlowSpeed)
	return 100 * (1 - r*r)
}

// SpeedRatioForIndex inverts CongestionIndex, floored so travel times stay finite
func SpeedRatioForIndex(index float64) float64 {
	idx := math.Max(0, math.Min(index, 100))
	return math.Max(math.Sqrt(1-idx/100), minSpeedRatio)
}

// DelayMinutes is the extra traversal time at avgSpeed versus free flow
func DelayMinutes(lengthKm, avgSpeed, freeFlowSpeed float64) float64 {
	if lengthKm <= 0 || freeFlowSpeed <= 0 {
		return 0
	}
	speed := math.Max(avgSpeed, MinCrawlSpeedKmh)
	delay := lengthKm/speed*60 - lengthKm/freeFlowSpeed*60
	return math.Max(delay, 0)
}

// CongestionLevel returns the human-readable level for an index
func CongestionLevel(index float64) string {
	switch {
	case index >= 80:
		return "Severe"
	case index >= 60:
		return "Heavy"
	case index >= 40:
		return "Moderate"
	case index >= 20:
		return "Light"
	default:
		return "Free Flow"
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
