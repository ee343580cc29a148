package geofence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
)

var (
	pickupPoint = geo.Coordinate{Latitude: 37.7858, Longitude: -122.4064}
	awayPoint   = geo.Coordinate{Latitude: 37.8044, Longitude: -122.2712}
)

func pickupRegion(tripID uuid.UUID) trip.GeofenceRegion {
	return trip.GeofenceRegion{
		TripID:       tripID,
		Kind:         trip.RegionPickup,
		Center:       pickupPoint,
		RadiusMeters: 25,
	}
}

func TestEvaluate_FiresOnEntry(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	tripID := uuid.New()
	m.Track(driverID, pickupRegion(tripID))

	assert.Empty(t, m.Evaluate(driverID, awayPoint), "outside the region nothing fires")

	entered := m.Evaluate(driverID, pickupPoint)
	require.Len(t, entered, 1)
	assert.Equal(t, tripID, entered[0].TripID)
	assert.Equal(t, trip.RegionPickup, entered[0].Kind)
}

func TestEvaluate_FiresAtMostOnce(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	m.Track(driverID, pickupRegion(uuid.New()))

	require.Len(t, m.Evaluate(driverID, pickupPoint), 1)

	// The driver idling at the curb keeps sending positions inside the circle.
	assert.Empty(t, m.Evaluate(driverID, pickupPoint))
	assert.Empty(t, m.Evaluate(driverID, pickupPoint))

	// Leaving and coming back does not re-fire either.
	assert.Empty(t, m.Evaluate(driverID, awayPoint))
	assert.Empty(t, m.Evaluate(driverID, pickupPoint))
}

func TestEvaluate_UnknownDriver(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	assert.Empty(t, m.Evaluate(uuid.New(), pickupPoint))
}

func TestTrack_ReArmingReplacesWatch(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	tripID := uuid.New()

	m.Track(driverID, pickupRegion(tripID))
	require.Len(t, m.Evaluate(driverID, pickupPoint), 1)

	// Re-arming the same kind resets the edge trigger.
	m.Track(driverID, pickupRegion(tripID))
	assert.Len(t, m.Evaluate(driverID, pickupPoint), 1)
}

func TestRelease(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	tripID := uuid.New()
	m.Track(driverID, pickupRegion(tripID))

	m.Release(tripID, trip.RegionPickup)
	assert.Empty(t, m.Evaluate(driverID, pickupPoint))

	// Releasing an unknown trip is harmless.
	m.Release(uuid.New(), trip.RegionPickup)
}

func TestReleaseTrip_DropsAllRegions(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	tripID := uuid.New()

	m.Track(driverID, pickupRegion(tripID))
	m.Track(driverID, trip.GeofenceRegion{
		TripID:       tripID,
		Kind:         trip.RegionDestination,
		Center:       awayPoint,
		RadiusMeters: 25,
	})

	m.ReleaseTrip(tripID)
	assert.Empty(t, m.Evaluate(driverID, pickupPoint))
	assert.Empty(t, m.Evaluate(driverID, awayPoint))
}

func TestTrack_DistinctKindsFireIndependently(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	driverID := uuid.New()
	tripID := uuid.New()

	m.Track(driverID, pickupRegion(tripID))
	m.Track(driverID, trip.GeofenceRegion{
		TripID:       tripID,
		Kind:         trip.RegionDestination,
		Center:       awayPoint,
		RadiusMeters: 25,
	})

	entered := m.Evaluate(driverID, pickupPoint)
	require.Len(t, entered, 1)
	assert.Equal(t, trip.RegionPickup, entered[0].Kind)

	entered = m.Evaluate(driverID, awayPoint)
	require.Len(t, entered, 1)
	assert.Equal(t, trip.RegionDestination, entered[0].Kind)
}
