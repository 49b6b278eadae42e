package domain

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// DefaultRouteUpdateInterval is the refresh cadence of an emergency route
const DefaultRouteUpdateInterval = 30 * time.Second

// RouteSource records which geometry algorithm produced a route
type RouteSource string

const (
	SourceInterpolated RouteSource = "interpolated"
	SourceProvider     RouteSource = "provider"
)

// RoutePoint is a polyline vertex with its congestion annotation
type RoutePoint struct {
	Coordinate
	CongestionIndex float64 `json:"congestion_index"`
}

// EmergencyRoute is recomputed in full on every refresh
type EmergencyRoute struct {
	ID                   string       `json:"id"`
	Origin               Coordinate   `json:"origin"`
	Destination          Coordinate   `json:"destination"`
	Points               []RoutePoint `json:"points"`
	Source               RouteSource  `json:"source"`
	DistanceKm           float64      `json:"distance_km"`
	EstimatedTimeMinutes float64      `json:"estimated_time_minutes"`
	BaseTimeMinutes      float64      `json:"base_time_minutes"`
	LastUpdate           time.Time    `json:"last_update"`
	UpdateIntervalSec    int          `json:"update_interval_sec"`
	Active               bool         `json:"active"`
}

// Interval returns the refresh cadence, falling back to the default
func (r EmergencyRoute) Interval() time.Duration {
	if r.UpdateIntervalSec <= 0 {
		return DefaultRouteUpdateInterval
	}
	return time.Duration(r.UpdateIntervalSec) * time.Second
}

// Path returns the route geometry without annotations
func (r EmergencyRoute) Path() []Coordinate {
	path := make([]Coordinate, len(r.Points))
	for i, p := range r.Points {
		path[i] = p.Coordinate
	}
	return path
}

// MaxCongestion is the highest annotation along the route
func (r EmergencyRoute) MaxCongestion() float64 {
	var m float64
	for _, p := range r.Points {
		m = math.Max(m, p.CongestionIndex)
	}
	return m
}

// CongestionCell is a circular zone carrying a segment's latest congestion index
type CongestionCell struct {
	SegmentID       string     `json:"segment_id"`
	Center          Coordinate `json:"center"`
	RadiusKm        float64    `json:"radius_km"`
	CongestionIndex float64    `json:"congestion_index"`
}

// CongestionMap is the live congestion snapshot the router reads
type CongestionMap struct {
	Cells []CongestionCell `json:"cells"`
}

// IndexAt returns the highest congestion index among cells containing c
func (m CongestionMap) IndexAt(c Coordinate) float64 {
	var idx float64
	p := c.Point()
	for _, cell := range m.Cells {
		if geo.DistanceHaversine(p, cell.Center.Point())/1000 <= cell.RadiusKm {
			idx = math.Max(idx, cell.CongestionIndex)
		}
	}
	return idx
}

// Point converts to orb's lon/lat ordering
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}
