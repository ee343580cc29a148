package registry

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
)

var (
	regPickup  = geo.Coordinate{Latitude: 37.7858, Longitude: -122.4064}
	regDropoff = geo.Coordinate{Latitude: 37.7749, Longitude: -122.4194}
)

func newRegisteredTrip(t *testing.T, r *Registry) *trip.Trip {
	t.Helper()
	tr, err := trip.NewTrip(uuid.New(), regPickup, regDropoff)
	require.NoError(t, err)
	require.NoError(t, r.Register(tr))
	return tr
}

func TestRegister(t *testing.T) {
	t.Run("rejects a passenger with an active trip", func(t *testing.T) {
		r := New(zap.NewNop())
		first := newRegisteredTrip(t, r)

		second, err := trip.NewTrip(first.PassengerID(), regPickup, regDropoff)
		require.NoError(t, err)

		err = r.Register(second)
		assert.True(t, domain.IsCode(err, domain.CodeAlreadyInTrip))
		assert.Equal(t, 1, r.ActiveCount())
	})

	t.Run("different passengers register independently", func(t *testing.T) {
		r := New(zap.NewNop())
		newRegisteredTrip(t, r)
		newRegisteredTrip(t, r)
		assert.Equal(t, 2, r.ActiveCount())
	})
}

func TestGet(t *testing.T) {
	r := New(zap.NewNop())
	tr := newRegisteredTrip(t, r)

	got, err := r.Get(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, tr.ID(), got.ID())

	// The returned snapshot is detached from registry state.
	require.NoError(t, got.Apply(trip.EventNoDriverAvailable))
	again, err := r.Get(tr.ID())
	require.NoError(t, err)
	assert.Equal(t, trip.StateRequested, again.State())

	_, err = r.Get(uuid.New())
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestFindByPassengerAndDriver(t *testing.T) {
	r := New(zap.NewNop())
	tr := newRegisteredTrip(t, r)
	driverID := uuid.New()

	found := r.FindByPassenger(tr.PassengerID())
	require.NotNil(t, found)
	assert.Equal(t, tr.ID(), found.ID())

	assert.Nil(t, r.FindByDriver(driverID), "driver not bound yet")

	_, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
		return mt.Match(driverID)
	})
	require.NoError(t, err)

	found = r.FindByDriver(driverID)
	require.NotNil(t, found)
	assert.Equal(t, tr.ID(), found.ID())
}

func TestMutate(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		committed, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
			return mt.Match(uuid.New())
		})
		require.NoError(t, err)
		assert.Equal(t, trip.StateAccepted, committed.State())

		got, err := r.Get(tr.ID())
		require.NoError(t, err)
		assert.Equal(t, trip.StateAccepted, got.State())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		_, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
			require.NoError(t, mt.Match(uuid.New()))
			return mt.Apply(trip.EventDriverConfirmsPickup) // invalid from accepted
		})
		require.Error(t, err)

		got, err := r.Get(tr.ID())
		require.NoError(t, err)
		assert.Equal(t, trip.StateRequested, got.State(), "failed mutation must leave no trace")
		assert.Nil(t, got.DriverID())
	})

	t.Run("terminal transition unregisters the trip", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		_, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
			return mt.Apply(trip.EventNoDriverAvailable)
		})
		require.NoError(t, err)

		assert.Equal(t, 0, r.ActiveCount())
		assert.Nil(t, r.FindByPassenger(tr.PassengerID()))

		_, err = r.Get(tr.ID())
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})

	t.Run("passenger may request again after terminal state", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		_, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
			return mt.Apply(trip.EventMatchTimeout)
		})
		require.NoError(t, err)

		next, err := trip.NewTrip(tr.PassengerID(), regPickup, regDropoff)
		require.NoError(t, err)
		assert.NoError(t, r.Register(next))
	})

	t.Run("unknown trip", func(t *testing.T) {
		r := New(zap.NewNop())
		_, err := r.Mutate(uuid.New(), func(*trip.Trip) error { return nil })
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})

	t.Run("concurrent transitions on one trip serialize", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)
		driverID := uuid.New()

		var wg sync.WaitGroup
		successes := make(chan struct{}, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Mutate(tr.ID(), func(mt *trip.Trip) error {
					return mt.Match(driverID)
				})
				if err == nil {
					successes <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(successes)

		// Same driver retrying is idempotent, so every attempt succeeds, and
		// the committed state is a single accepted trip.
		assert.Len(t, successes, 10)
		got, err := r.Get(tr.ID())
		require.NoError(t, err)
		assert.Equal(t, trip.StateAccepted, got.State())
		assert.Equal(t, driverID, *got.DriverID())
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("delivers current snapshot then transitions in order", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		sub, err := r.Subscribe(tr.ID())
		require.NoError(t, err)
		defer sub.Cancel()

		first := <-sub.C()
		assert.Equal(t, trip.StateRequested, first.State())

		driverID := uuid.New()
		_, err = r.Mutate(tr.ID(), func(mt *trip.Trip) error { return mt.Match(driverID) })
		require.NoError(t, err)
		_, err = r.Mutate(tr.ID(), func(mt *trip.Trip) error { return mt.Apply(trip.EventDriverEnteredPickup) })
		require.NoError(t, err)

		assert.Equal(t, trip.StateAccepted, (<-sub.C()).State())
		assert.Equal(t, trip.StateDriverArrived, (<-sub.C()).State())
	})

	t.Run("channel closes on terminal state", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		sub, err := r.Subscribe(tr.ID())
		require.NoError(t, err)
		<-sub.C()

		_, err = r.Mutate(tr.ID(), func(mt *trip.Trip) error {
			return mt.Apply(trip.EventNoDriverAvailable)
		})
		require.NoError(t, err)

		snapshot, open := <-sub.C()
		require.True(t, open, "the terminal snapshot is delivered before closing")
		assert.Equal(t, trip.StateDenied, snapshot.State())

		_, open = <-sub.C()
		assert.False(t, open)
	})

	t.Run("cancel detaches without touching the trip", func(t *testing.T) {
		r := New(zap.NewNop())
		tr := newRegisteredTrip(t, r)

		sub, err := r.Subscribe(tr.ID())
		require.NoError(t, err)
		<-sub.C()

		sub.Cancel()
		sub.Cancel() // safe to repeat

		_, open := <-sub.C()
		assert.False(t, open)

		got, err := r.Get(tr.ID())
		require.NoError(t, err)
		assert.Equal(t, trip.StateRequested, got.State())
	})

	t.Run("unknown trip", func(t *testing.T) {
		r := New(zap.NewNop())
		_, err := r.Subscribe(uuid.New())
		assert.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestDrop(t *testing.T) {
	r := New(zap.NewNop())
	tr := newRegisteredTrip(t, r)

	sub, err := r.Subscribe(tr.ID())
	require.NoError(t, err)
	<-sub.C()

	r.Drop(tr.ID())

	assert.Equal(t, 0, r.ActiveCount())
	assert.Nil(t, r.FindByPassenger(tr.PassengerID()))
	_, open := <-sub.C()
	assert.False(t, open)

	// Dropping twice is harmless.
	r.Drop(tr.ID())
}
