package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

// Registry is the process-wide directory of active trips. It enforces the
// one-active-trip-per-party invariant, serializes transitions per trip, and
// fans out trip snapshots to subscribers in transition order.
//
// Lock ordering: an entry lock may be taken while holding no registry lock,
// and the registry lock may be taken while holding an entry lock, never the
// other way around.
type Registry struct {
	mu          sync.RWMutex
	trips       map[uuid.UUID]*entry
	byPassenger map[uuid.UUID]uuid.UUID
	byDriver    map[uuid.UUID]uuid.UUID
	logger      *zap.Logger
}

type entry struct {
	mu      sync.Mutex
	trip    *trip.Trip
	subs    map[int64]chan *trip.Trip
	nextSub int64
	closed  bool
}

// Subscription is a cancellable, ordered stream of trip snapshots. The
// channel closes when the trip reaches a terminal state or the subscriber
// cancels; cancelling never affects the trip itself.
type Subscription struct {
	ch     <-chan *trip.Trip
	cancel func()
}

// C returns the snapshot channel.
func (s *Subscription) C() <-chan *trip.Trip { return s.ch }

// Cancel detaches the subscriber. Safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

// New creates an empty trip registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		trips:       make(map[uuid.UUID]*entry),
		byPassenger: make(map[uuid.UUID]uuid.UUID),
		byDriver:    make(map[uuid.UUID]uuid.UUID),
		logger:      logger,
	}
}

// Register adds a trip to the directory. It fails with AlreadyInTrip if the
// passenger, or the assigned driver if any, already has an active trip.
func (r *Registry) Register(t *trip.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPassenger[t.PassengerID()]; exists {
		return domain.NewAlreadyInTripError("passenger", t.PassengerID().String())
	}
	if t.DriverID() != nil {
		if _, exists := r.byDriver[*t.DriverID()]; exists {
			return domain.NewAlreadyInTripError("driver", t.DriverID().String())
		}
	}

	r.trips[t.ID()] = &entry{
		trip: t.Clone(),
		subs: make(map[int64]chan *trip.Trip),
	}
	r.byPassenger[t.PassengerID()] = t.ID()
	if t.DriverID() != nil {
		r.byDriver[*t.DriverID()] = t.ID()
	}

	r.logger.Debug("trip registered",
		zap.String("trip_id", t.ID().String()),
		zap.String("passenger_id", t.PassengerID().String()),
	)
	return nil
}

// Get returns a snapshot of an active trip.
func (r *Registry) Get(tripID uuid.UUID) (*trip.Trip, error) {
	e, err := r.lookup(tripID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trip.Clone(), nil
}

// FindByPassenger returns the passenger's active trip, or nil.
func (r *Registry) FindByPassenger(passengerID uuid.UUID) *trip.Trip {
	r.mu.RLock()
	tripID, ok := r.byPassenger[passengerID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	t, err := r.Get(tripID)
	if err != nil {
		return nil
	}
	return t
}

// FindByDriver returns the driver's active trip, or nil.
func (r *Registry) FindByDriver(driverID uuid.UUID) *trip.Trip {
	r.mu.RLock()
	tripID, ok := r.byDriver[driverID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	t, err := r.Get(tripID)
	if err != nil {
		return nil
	}
	return t
}

// Mutate applies fn to a clone of the trip under the per-trip lock and
// commits the clone only if fn succeeds. Transitions on the same trip are
// strictly ordered; transitions on different trips proceed in parallel.
// After a successful commit subscribers receive a snapshot, driver lookups
// are reindexed, and a trip that reached a terminal state is unregistered.
// The committed snapshot is returned.
func (r *Registry) Mutate(tripID uuid.UUID, fn func(*trip.Trip) error) (*trip.Trip, error) {
	e, err := r.lookup(tripID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, domain.NewNotFoundError("Trip", tripID.String())
	}

	previous := e.trip
	clone := previous.Clone()
	if err := fn(clone); err != nil {
		return nil, err
	}
	e.trip = clone

	driverBound := previous.DriverID() == nil && clone.DriverID() != nil
	terminal := clone.State().IsTerminal()
	if driverBound || terminal {
		r.reindex(clone, driverBound, terminal)
	}

	r.notifyLocked(e, clone)
	if terminal {
		r.closeSubsLocked(e)
		r.logger.Debug("trip unregistered",
			zap.String("trip_id", clone.ID().String()),
			zap.String("state", clone.State().String()),
		)
	}

	return clone.Clone(), nil
}

// Subscribe attaches an observer to an active trip. The current snapshot is
// delivered first, then one snapshot per committed transition, in order.
func (r *Registry) Subscribe(tripID uuid.UUID) (*Subscription, error) {
	e, err := r.lookup(tripID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, domain.NewNotFoundError("Trip", tripID.String())
	}

	id := e.nextSub
	e.nextSub++
	ch := make(chan *trip.Trip, subscriberBuffer)
	e.subs[id] = ch
	ch <- e.trip.Clone()

	cancel := func() {
		e.mu.Lock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
		e.mu.Unlock()
	}
	return &Subscription{ch: ch, cancel: cancel}, nil
}

// Drop removes a trip that failed to persist right after registration. No
// snapshot is delivered; subscribers, if any, are closed.
func (r *Registry) Drop(tripID uuid.UUID) {
	e, err := r.lookup(tripID)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	r.reindex(e.trip, false, true)
	r.closeSubsLocked(e)
}

// ActiveCount returns the number of registered trips.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trips)
}

func (r *Registry) lookup(tripID uuid.UUID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.trips[tripID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("Trip", tripID.String())
	}
	return e, nil
}

// reindex updates the directory maps after a committed transition. Called
// while holding the entry lock, which is the permitted lock order.
func (r *Registry) reindex(t *trip.Trip, driverBound, terminal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if driverBound {
		r.byDriver[*t.DriverID()] = t.ID()
	}
	if terminal {
		delete(r.trips, t.ID())
		delete(r.byPassenger, t.PassengerID())
		if t.DriverID() != nil {
			delete(r.byDriver, *t.DriverID())
		}
	}
}

// notifyLocked pushes the committed snapshot to each subscriber. Sends are
// non-blocking: a full subscriber misses intermediate states but never
// observes them out of order.
func (r *Registry) notifyLocked(e *entry, t *trip.Trip) {
	for id, ch := range e.subs {
		select {
		case ch <- t.Clone():
		default:
			r.logger.Warn("trip subscriber falling behind, dropping snapshot",
				zap.String("trip_id", t.ID().String()),
				zap.Int64("subscriber", id),
			)
		}
	}
}

func (r *Registry) closeSubsLocked(e *entry) {
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
