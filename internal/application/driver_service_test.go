package application

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
)

func newDriverFixture(t *testing.T) (*DriverService, *serviceFixture) {
	t.Helper()
	f := newServiceFixture(t, MatchingConfig{})
	return NewDriverService(f.index, f.monitor, f.service, zap.NewNop()), f
}

func TestDriverUpdateLocation(t *testing.T) {
	t.Run("records the position", func(t *testing.T) {
		svc, f := newDriverFixture(t)
		driverID := uuid.New()

		require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcPickup))

		rec, ok := f.index.Get(driverID)
		require.True(t, ok)
		assert.Equal(t, svcPickup, rec.Location)
		assert.True(t, rec.Available)
	})

	t.Run("entering the pickup region fires the arrival transition", func(t *testing.T) {
		svc, f := newDriverFixture(t)
		driverID := uuid.New()
		require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcPickup))

		dto := requestTrip(t, f)
		_, err := f.service.AcceptTrip(context.Background(), dto.ID, driverID)
		require.NoError(t, err)

		// Approaching from outside changes nothing.
		require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcDropoff))
		got, err := f.service.GetTrip(context.Background(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, string(trip.StateAccepted), got.State)

		// Crossing into the region transitions the trip.
		require.NoError(t, svc.UpdateLocation(context.Background(), driverID, nearPickup))
		got, err = f.service.GetTrip(context.Background(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, string(trip.StateDriverArrived), got.State)

		// Idling inside keeps the state put.
		require.NoError(t, svc.UpdateLocation(context.Background(), driverID, nearPickup))
		got, err = f.service.GetTrip(context.Background(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, string(trip.StateDriverArrived), got.State)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		svc, _ := newDriverFixture(t)
		err := svc.UpdateLocation(context.Background(), uuid.Nil, svcPickup)
		assert.True(t, domain.IsCode(err, domain.CodeValidation))

		err = svc.UpdateLocation(context.Background(), uuid.New(), geo.Coordinate{Latitude: -92, Longitude: 0})
		assert.True(t, domain.IsCode(err, domain.CodeValidation))
	})
}

func TestDriverSetAvailability(t *testing.T) {
	svc, f := newDriverFixture(t)
	driverID := uuid.New()

	err := svc.SetAvailability(context.Background(), driverID, true)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound), "a driver must report a position first")

	require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcPickup))
	require.NoError(t, svc.SetAvailability(context.Background(), driverID, false))

	rec, _ := f.index.Get(driverID)
	assert.False(t, rec.Available)
}

func TestDriverGoOffline(t *testing.T) {
	svc, f := newDriverFixture(t)
	driverID := uuid.New()
	require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcPickup))

	svc.GoOffline(context.Background(), driverID)

	_, ok := f.index.Get(driverID)
	assert.False(t, ok)
}

func TestDriverNearby(t *testing.T) {
	svc, _ := newDriverFixture(t)
	driverID := uuid.New()
	require.NoError(t, svc.UpdateLocation(context.Background(), driverID, svcPickup))

	records, err := svc.NearbyDrivers(svcPickup, 5000, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, driverID, records[0].ID)

	_, err = svc.NearbyDrivers(geo.Coordinate{Latitude: 100, Longitude: 0}, 5000, 10)
	assert.True(t, domain.IsCode(err, domain.CodeValidation))

	ch, cancel, err := svc.SubscribeNearby(svcPickup, 5000, 10)
	require.NoError(t, err)
	defer cancel()
	assert.Len(t, <-ch, 1)
}
