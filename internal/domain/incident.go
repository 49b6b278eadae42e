package domain

import "time"

// Bottleneck is a detected, sustained slowdown on a segment
type Bottleneck struct {
	ID                 string     `json:"id"`
	SegmentID          string     `json:"segment_id"`
	DetectedAt         time.Time  `json:"detected_at"`
	Origin             Coordinate `json:"origin"`
	Severity           Severity   `json:"severity"`
	SpeedDropPct       float64    `json:"speed_drop_pct"`
	BackwardExtentKm   float64    `json:"backward_extent_km"`
	UpstreamSegmentIDs []string   `json:"upstream_segment_ids,omitempty"`
	Resolved           bool       `json:"resolved"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// DecisionType is the closed set of mitigation actions
type DecisionType string

const (
	DecisionDiversion        DecisionType = "diversion"
	DecisionSignalAdjustment DecisionType = "signal_adjustment"
	DecisionIntervention     DecisionType = "intervention"
)

// DecisionStatus tracks the external approval workflow
type DecisionStatus string

const (
	StatusPending     DecisionStatus = "pending"
	StatusApproved    DecisionStatus = "approved"
	StatusImplemented DecisionStatus = "implemented"
	StatusRejected    DecisionStatus = "rejected"
)

// Valid reports whether s is a known status
func (s DecisionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusImplemented, StatusRejected:
		return true
	}
	return false
}

// SignalAdjustmentDetails describes a signal timing change
type SignalAdjustmentDetails struct {
	GreenExtensionSec int     `json:"green_extension_sec"`
	CongestionIndex   float64 `json:"congestion_index"`
}

// DiversionDetails describes rerouting around a bottleneck
type DiversionDetails struct {
	BottleneckID     string   `json:"bottleneck_id"`
	Severity         Severity `json:"severity"`
	BackwardExtentKm float64  `json:"backward_extent_km"`
}

// InterventionDetails describes a precautionary operational response
type InterventionDetails struct {
	PeakPredictedIndex float64 `json:"peak_predicted_index"`
	PeakHorizonMin     int     `json:"peak_horizon_min"`
	TrendSlope         float64 `json:"trend_slope"`
}

// DecisionDetails carries exactly one variant matching the decision type
type DecisionDetails struct {
	Signal       *SignalAdjustmentDetails `json:"signal_adjustment,omitempty"`
	Diversion    *DiversionDetails        `json:"diversion,omitempty"`
	Intervention *InterventionDetails     `json:"intervention,omitempty"`
}

// Decision is a candidate mitigation action
type Decision struct {
	ID                            string          `json:"id"`
	SegmentID                     string          `json:"segment_id"`
	Type                          DecisionType    `json:"decision_type"`
	RecommendedAt                 time.Time       `json:"recommended_at"`
	ExpectedDelayReductionMinutes float64         `json:"expected_delay_reduction_minutes"`
	ExpectedBenefitScore          float64         `json:"expected_benefit_score"`
	AffectedSegments              []string        `json:"affected_segments"`
	Status                        DecisionStatus  `json:"status"`
	Details                       DecisionDetails `json:"details"`
}
