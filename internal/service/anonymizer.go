package service

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

// stationaryThresholdKm is the centroid displacement below which flow has no direction
const stationaryThresholdKm = 0.01

// DirectionStationary is reported when the sample cloud did not move
const DirectionStationary = "stationary"

// Anonymizer aggregates raw device samples into privacy-compliant signals.
// It performs no I/O and is safe for concurrent use.
type Anonymizer struct{}

// NewAnonymizer creates a new anonymizer
func NewAnonymizer() *Anonymizer {
	return &Anonymizer{}
}

// Anonymize converts a raw observation into an aggregate signal.
// It returns domain.ErrPrivacyViolation when fewer than domain.KAnonymityFloor
// distinct devices contributed; no signal is produced in that case.
func (a *Anonymizer) Anonymize(raw domain.RawObservation, segmentLengthKm float64) (domain.AnonymizedSignal, error) {
	if len(raw.Devices) == 0 {
		return domain.AnonymizedSignal{}, fmt.Errorf("%w: devices must not be empty", domain.ErrInvalidInput)
	}
	if segmentLengthKm <= 0 {
		return domain.AnonymizedSignal{}, fmt.Errorf("%w: segment length must be positive", domain.ErrInvalidInput)
	}

	deviceCount := distinctDevices(raw.Devices)
	if deviceCount < domain.KAnonymityFloor {
		return domain.AnonymizedSignal{}, fmt.Errorf("%w: %d devices (need %d)",
			domain.ErrPrivacyViolation, deviceCount, domain.KAnonymityFloor)
	}

	speeds := make([]float64, len(raw.Devices))
	var latest time.Time
	for i, d := range raw.Devices {
		speeds[i] = d.Speed
		if d.Timestamp.After(latest) {
			latest = d.Timestamp
		}
	}

	return domain.AnonymizedSignal{
		SegmentID:         raw.SegmentID,
		Timestamp:         latest,
		AvgSpeed:          utils.RoundTo(stat.Mean(speeds, nil), 2),
		Density:           utils.RoundTo(float64(deviceCount)/segmentLengthKm, 2),
		KAnonymity:        deviceCount,
		Anonymized:        true,
		MovementDirection: movementDirection(raw.Devices),
	}, nil
}

// ValidatePrivacyCompliance re-checks a signal before it is stored
func (a *Anonymizer) ValidatePrivacyCompliance(signal domain.AnonymizedSignal) error {
	if !signal.Anonymized {
		return fmt.Errorf("%w: signal is not flagged as anonymized", domain.ErrPrivacyViolation)
	}
	if signal.KAnonymity < domain.KAnonymityFloor {
		return fmt.Errorf("%w: k-anonymity %d below %d",
			domain.ErrPrivacyViolation, signal.KAnonymity, domain.KAnonymityFloor)
	}
	return nil
}

// distinctDevices counts unique device ids; samples without an id count individually
func distinctDevices(samples []domain.DeviceSample) int {
	seen := make(map[string]struct{}, len(samples))
	for i, s := range samples {
		key := s.DeviceID
		if key == "" {
			key = "#" + strconv.Itoa(i)
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}

// movementDirection compares the centroid of the earlier half of samples with the later half
func movementDirection(samples []domain.DeviceSample) string {
	if len(samples) < 2 {
		return DirectionStationary
	}

	sorted := make([]domain.DeviceSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	half := len(sorted) / 2
	from := centroid(sorted[:half])
	to := centroid(sorted[half:])

	if utils.Haversine(from.Latitude, from.Longitude, to.Latitude, to.Longitude) < stationaryThresholdKm {
		return DirectionStationary
	}
	return utils.Compass(utils.Bearing(from.Latitude, from.Longitude, to.Latitude, to.Longitude))
}

func centroid(samples []domain.DeviceSample) domain.Coordinate {
	lats := make([]float64, len(samples))
	lngs := make([]float64, len(samples))
	for i, s := range samples {
		lats[i] = s.Latitude
		lngs[i] = s.Longitude
	}
	return domain.Coordinate{Latitude: stat.Mean(lats, nil), Longitude: stat.Mean(lngs, nil)}
}
