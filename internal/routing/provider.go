package routing

import (
	"context"
	"math"

	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
)

// Provider asks an external routing service for the pickup-to-destination
// leg. The core only stores the returned geometry handle; it never computes
// turn-by-turn paths itself.
type Provider interface {
	Route(ctx context.Context, from, to geo.Coordinate) (*trip.RouteSpec, error)
}

// HaversineEstimator is the fallback provider used when no external routing
// service is configured. It estimates distance as the great-circle line and
// duration from a flat urban average speed, and returns no geometry.
type HaversineEstimator struct {
	avgSpeedKmh float64
}

// NewHaversineEstimator creates the fallback estimator.
func NewHaversineEstimator() *HaversineEstimator {
	return &HaversineEstimator{avgSpeedKmh: 30}
}

// Route estimates the leg without calling out.
func (e *HaversineEstimator) Route(_ context.Context, from, to geo.Coordinate) (*trip.RouteSpec, error) {
	distanceKm := from.DistanceMeters(to) / 1000.0
	return &trip.RouteSpec{
		DistanceKm:           distanceKm,
		EstimatedDurationMin: int(math.Ceil(distanceKm / e.avgSpeedKmh * 60)),
	}, nil
}
