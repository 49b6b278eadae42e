package domain

import (
	"fmt"
	"math"
	"strings"
)

// ValidateObservation rejects malformed batches before they reach the core
func ValidateObservation(raw RawObservation) error {
	if strings.TrimSpace(raw.SegmentID) == "" {
		return fmt.Errorf("%w: segment_id is required", ErrInvalidInput)
	}
	if len(raw.Devices) == 0 {
		return fmt.Errorf("%w: devices must not be empty", ErrInvalidInput)
	}
	for i, d := range raw.Devices {
		if err := ValidateCoordinate(Coordinate{Latitude: d.Latitude, Longitude: d.Longitude}); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}
		if math.IsNaN(d.Speed) || math.IsInf(d.Speed, 0) || d.Speed < 0 {
			return fmt.Errorf("%w: device %d has invalid speed %v", ErrInvalidInput, i, d.Speed)
		}
		if d.Timestamp.IsZero() {
			return fmt.Errorf("%w: device %d has no timestamp", ErrInvalidInput, i)
		}
	}
	return nil
}

// ValidateCoordinate checks that c is finite and within WGS84 bounds
func ValidateCoordinate(c Coordinate) error {
	if !finite(c.Latitude) || !finite(c.Longitude) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidInput)
	}
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: coordinate out of range (%f, %f)", ErrInvalidInput, c.Latitude, c.Longitude)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
