package postgres

import (
	"context"
	"fmt"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

// AlmatySegments returns the reference road network seeded at startup
func AlmatySegments() []domain.RoadSegment {
	segments := []domain.RoadSegment{
		// Al-Farabi Avenue, eastbound chain
		{ID: "al-farabi-e-1", RoadName: "Al-Farabi Avenue", City: "Almaty", Direction: "E",
			Start: domain.Coordinate{Latitude: 43.2180, Longitude: 76.8500}, End: domain.Coordinate{Latitude: 43.2180, Longitude: 76.8700},
			FreeFlowSpeedKmh: 80, HasSignalControl: true},
		{ID: "al-farabi-e-2", RoadName: "Al-Farabi Avenue", City: "Almaty", Direction: "E",
			Start: domain.Coordinate{Latitude: 43.2180, Longitude: 76.8700}, End: domain.Coordinate{Latitude: 43.2180, Longitude: 76.8900},
			FreeFlowSpeedKmh: 80, HasSignalControl: true},
		{ID: "al-farabi-e-3", RoadName: "Al-Farabi Avenue", City: "Almaty", Direction: "E",
			Start: domain.Coordinate{Latitude: 43.2180, Longitude: 76.8900}, End: domain.Coordinate{Latitude: 43.2180, Longitude: 76.9100},
			FreeFlowSpeedKmh: 80, HasSignalControl: true},
		// Dostyk Avenue, northbound
		{ID: "dostyk-n-1", RoadName: "Dostyk Avenue", City: "Almaty", Direction: "N",
			Start: domain.Coordinate{Latitude: 43.2300, Longitude: 76.9550}, End: domain.Coordinate{Latitude: 43.2500, Longitude: 76.9550},
			FreeFlowSpeedKmh: 60, HasSignalControl: true},
		// Abay Avenue, westbound
		{ID: "abay-w-1", RoadName: "Abay Avenue", City: "Almaty", Direction: "W",
			Start: domain.Coordinate{Latitude: 43.2400, Longitude: 76.9400}, End: domain.Coordinate{Latitude: 43.2400, Longitude: 76.9100},
			FreeFlowSpeedKmh: 60, HasSignalControl: true},
		// Eastern bypass, no signals
		{ID: "east-bypass-n-1", RoadName: "Eastern Bypass", City: "Almaty", Direction: "N",
			Start: domain.Coordinate{Latitude: 43.2100, Longitude: 77.0000}, End: domain.Coordinate{Latitude: 43.2600, Longitude: 77.0050},
			FreeFlowSpeedKmh: 90, HasSignalControl: false},
	}

	for i := range segments {
		s := &segments[i]
		s.LengthKm = utils.RoundTo(utils.Haversine(s.Start.Latitude, s.Start.Longitude, s.End.Latitude, s.End.Longitude), 3)
	}
	return segments
}

// Seed upserts the reference network into repo
func Seed(ctx context.Context, repo domain.TrafficRepository, segments []domain.RoadSegment) error {
	for _, seg := range segments {
		if err := repo.SaveSegment(ctx, seg); err != nil {
			return fmt.Errorf("seed: segment %s: %w", seg.ID, err)
		}
	}
	return nil
}
