package domain

import "time"

// Coordinate is a WGS84 position
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// RoadSegment is the static reference entity every core component reads
type RoadSegment struct {
	ID               string     `json:"id"`
	RoadName         string     `json:"road_name"`
	City             string     `json:"city"`
	Direction        string     `json:"direction"`
	Start            Coordinate `json:"start"`
	End              Coordinate `json:"end"`
	LengthKm         float64    `json:"length_km"`
	FreeFlowSpeedKmh float64    `json:"free_flow_speed_kmh"`
	HasSignalControl bool       `json:"has_signal_control"`
}

// Midpoint returns the midpoint of the segment's start/end coordinates
func (s RoadSegment) Midpoint() Coordinate {
	return Coordinate{
		Latitude:  (s.Start.Latitude + s.End.Latitude) / 2,
		Longitude: (s.Start.Longitude + s.End.Longitude) / 2,
	}
}

// DeviceSample is a single device position report
type DeviceSample struct {
	DeviceID  string    `json:"device_id,omitempty"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// RawObservation lives only for one ingestion call and is never persisted
type RawObservation struct {
	SegmentID string         `json:"segment_id"`
	Devices   []DeviceSample `json:"devices"`
}

// AnonymizedSignal is the aggregate, privacy-compliant form of a RawObservation
type AnonymizedSignal struct {
	SegmentID         string    `json:"segment_id"`
	Timestamp         time.Time `json:"timestamp"`
	AvgSpeed          float64   `json:"avg_speed_kmh"`
	Density           float64   `json:"density_per_km"`
	KAnonymity        int       `json:"k_anonymity"`
	Anonymized        bool      `json:"anonymized"`
	MovementDirection string    `json:"movement_direction"`
}

// TrafficAnalysis is derived from one AnonymizedSignal and never mutated
type TrafficAnalysis struct {
	SegmentID         string    `json:"segment_id"`
	Timestamp         time.Time `json:"timestamp"`
	CongestionIndex   float64   `json:"congestion_index"`
	CongestionLevel   string    `json:"congestion_level"`
	DelayMinutes      float64   `json:"delay_minutes"`
	AvgSpeed          float64   `json:"avg_speed_kmh"`
	Density           float64   `json:"density_per_km"`
	MovementDirection string    `json:"movement_direction"`
}

// Prediction is a near-term congestion forecast for one segment and horizon
type Prediction struct {
	SegmentID       string   `json:"segment_id"`
	HorizonMin      int      `json:"horizon_min"`
	CongestionScore float64  `json:"congestion_score"`
	Confidence      *float64 `json:"confidence,omitempty"`
	IsMock          bool     `json:"is_mock"`
}

// SegmentOverview aggregates the live state of one segment for the dashboard
type SegmentOverview struct {
	Segment          RoadSegment      `json:"segment"`
	LatestAnalysis   *TrafficAnalysis `json:"latest_analysis,omitempty"`
	ActiveBottleneck *Bottleneck      `json:"active_bottleneck,omitempty"`
	PendingDecisions []Decision       `json:"pending_decisions"`
	Timestamp        time.Time        `json:"timestamp"`
}

// AlmatyCenter coordinates
const (
	AlmatyCenterLat = 43.2389
	AlmatyCenterLon = 76.8897
)
