package trip

import (
	"time"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
)

// Trip is the aggregate root for one ride engagement, from request to
// completion or denial. It is mutated only through its transition methods;
// the registry holds a non-owning reference for lookups.
type Trip struct {
	id          uuid.UUID
	passengerID uuid.UUID
	driverID    *uuid.UUID
	pickup      geo.Coordinate
	destination geo.Coordinate
	state       State
	route       *RouteSpec

	cancelledBy  *uuid.UUID
	cancelReason string

	acceptedAt  *time.Time
	arrivedAt   *time.Time
	startedAt   *time.Time
	completedAt *time.Time
	cancelledAt *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// RouteSpec is a value object holding the geometry handle returned by the
// external routing provider for the pickup-to-destination leg.
type RouteSpec struct {
	DistanceKm           float64 `json:"distance_km"`
	EstimatedDurationMin int     `json:"estimated_duration_min"`
	Polyline             string  `json:"polyline"`
}

// NewTrip creates a new Trip aggregate in the requested state.
func NewTrip(passengerID uuid.UUID, pickup, destination geo.Coordinate) (*Trip, error) {
	if passengerID == uuid.Nil {
		return nil, domain.NewValidationError("passenger ID is required")
	}
	if !pickup.IsValid() {
		return nil, domain.NewValidationError("pickup coordinate is out of range")
	}
	if !destination.IsValid() {
		return nil, domain.NewValidationError("destination coordinate is out of range")
	}

	now := time.Now().UTC()
	return &Trip{
		id:          uuid.New(),
		passengerID: passengerID,
		pickup:      pickup,
		destination: destination,
		state:       StateRequested,
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// ReconstructTrip rebuilds a Trip from persistence data (no validation).
func ReconstructTrip(
	id uuid.UUID,
	passengerID uuid.UUID,
	driverID *uuid.UUID,
	pickup geo.Coordinate,
	destination geo.Coordinate,
	state State,
	route *RouteSpec,
	cancelledBy *uuid.UUID,
	cancelReason string,
	acceptedAt *time.Time,
	arrivedAt *time.Time,
	startedAt *time.Time,
	completedAt *time.Time,
	cancelledAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Trip {
	return &Trip{
		id:           id,
		passengerID:  passengerID,
		driverID:     driverID,
		pickup:       pickup,
		destination:  destination,
		state:        state,
		route:        route,
		cancelledBy:  cancelledBy,
		cancelReason: cancelReason,
		acceptedAt:   acceptedAt,
		arrivedAt:    arrivedAt,
		startedAt:    startedAt,
		completedAt:  completedAt,
		cancelledAt:  cancelledAt,
		version:      version,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}

// --- Getters ---

// ID returns the trip's unique identifier.
func (t *Trip) ID() uuid.UUID { return t.id }

// PassengerID returns the requesting passenger's ID.
func (t *Trip) PassengerID() uuid.UUID { return t.passengerID }

// DriverID returns the assigned driver's ID, or nil before the trip is accepted.
func (t *Trip) DriverID() *uuid.UUID { return t.driverID }

// Pickup returns the pickup coordinate.
func (t *Trip) Pickup() geo.Coordinate { return t.pickup }

// Destination returns the destination coordinate.
func (t *Trip) Destination() geo.Coordinate { return t.destination }

// State returns the current trip state.
func (t *Trip) State() State { return t.state }

// Route returns the route specification, or nil if not yet requested.
func (t *Trip) Route() *RouteSpec { return t.route }

// CancelledBy returns the party that cancelled the trip, or nil.
func (t *Trip) CancelledBy() *uuid.UUID { return t.cancelledBy }

// CancelReason returns the cancellation reason.
func (t *Trip) CancelReason() string { return t.cancelReason }

// AcceptedAt returns when the trip was accepted by a driver.
func (t *Trip) AcceptedAt() *time.Time { return t.acceptedAt }

// ArrivedAt returns when the driver entered the pickup region.
func (t *Trip) ArrivedAt() *time.Time { return t.arrivedAt }

// StartedAt returns when the ride started.
func (t *Trip) StartedAt() *time.Time { return t.startedAt }

// CompletedAt returns when the ride completed.
func (t *Trip) CompletedAt() *time.Time { return t.completedAt }

// CancelledAt returns when the trip was cancelled or denied.
func (t *Trip) CancelledAt() *time.Time { return t.cancelledAt }

// Version returns the entity version for optimistic locking.
func (t *Trip) Version() int64 { return t.version }

// CreatedAt returns the creation timestamp.
func (t *Trip) CreatedAt() time.Time { return t.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (t *Trip) UpdatedAt() time.Time { return t.updatedAt }

// --- Behavior ---

// Apply performs a lifecycle transition. It is total: an invalid
// (state, event) pair fails with an invalid-transition error and leaves state
// unchanged. Re-delivering an event whose target state the trip already
// reached is a no-op success, so retries at the transport layer are safe.
// EventMatchFound carries a driver and must go through Match instead.
func (t *Trip) Apply(e Event) error {
	if e == EventMatchFound {
		return domain.NewValidationError("match_found requires a driver; use Match")
	}
	return t.apply(e)
}

// Match assigns a driver and transitions the trip from requested to accepted.
// Retrying with the same driver after acceptance is a no-op success; a
// different driver loses the race.
func (t *Trip) Match(driverID uuid.UUID) error {
	if driverID == uuid.Nil {
		return domain.NewValidationError("driver ID is required")
	}
	if t.state == StateAccepted {
		if t.driverID != nil && *t.driverID == driverID {
			return nil
		}
		return domain.NewAlreadyMatchedError(t.id.String())
	}
	if !EventMatchFound.allowedFrom(t.state) {
		if t.driverID != nil && *t.driverID != driverID {
			return domain.NewAlreadyMatchedError(t.id.String())
		}
		return domain.NewInvalidTransitionError(string(t.state), string(EventMatchFound))
	}
	t.driverID = &driverID
	now := time.Now().UTC()
	t.state = StateAccepted
	t.acceptedAt = &now
	t.updatedAt = now
	return nil
}

// Cancel transitions a matched trip to denied, recording who cancelled and why.
func (t *Trip) Cancel(e Event, cancelledBy uuid.UUID, reason string) error {
	if e != EventPassengerCancels && e != EventDriverCancels {
		return domain.NewValidationError("cancel requires a cancellation event")
	}
	target, _ := e.Target()
	if t.state == target {
		return nil
	}
	if err := t.apply(e); err != nil {
		return err
	}
	t.cancelledBy = &cancelledBy
	t.cancelReason = reason
	return nil
}

func (t *Trip) apply(e Event) error {
	target, known := e.Target()
	if !known {
		return domain.NewValidationError("unknown trip event: " + string(e))
	}
	// Duplicate delivery of an already-applied event is a success, not an error.
	if t.state == target {
		return nil
	}
	if !e.allowedFrom(t.state) {
		return domain.NewInvalidTransitionError(string(t.state), string(e))
	}

	now := time.Now().UTC()
	t.state = target
	t.updatedAt = now

	switch target {
	case StateDriverArrived:
		t.arrivedAt = &now
	case StateInProgress:
		t.startedAt = &now
	case StateCompleted:
		t.completedAt = &now
	case StateDenied:
		t.cancelledAt = &now
	}
	return nil
}

// SetRoute attaches the routing provider's result to the trip.
func (t *Trip) SetRoute(route *RouteSpec) {
	t.route = route
	t.updatedAt = time.Now().UTC()
}

// IncrementVersion bumps the version for optimistic locking.
func (t *Trip) IncrementVersion() {
	t.version++
	t.updatedAt = time.Now().UTC()
}

// Clone returns a deep copy. The registry mutates clones and commits them
// only after the whole transition, including side effects, has succeeded.
func (t *Trip) Clone() *Trip {
	c := *t
	if t.driverID != nil {
		id := *t.driverID
		c.driverID = &id
	}
	if t.cancelledBy != nil {
		id := *t.cancelledBy
		c.cancelledBy = &id
	}
	if t.route != nil {
		r := *t.route
		c.route = &r
	}
	c.acceptedAt = cloneTime(t.acceptedAt)
	c.arrivedAt = cloneTime(t.arrivedAt)
	c.startedAt = cloneTime(t.startedAt)
	c.completedAt = cloneTime(t.completedAt)
	c.cancelledAt = cloneTime(t.cancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PickupRegion builds the geofence region watched while the driver heads to
// the passenger.
func (t *Trip) PickupRegion(radiusMeters float64) GeofenceRegion {
	return GeofenceRegion{
		TripID:       t.id,
		Kind:         RegionPickup,
		Center:       t.pickup,
		RadiusMeters: radiusMeters,
	}
}

// DestinationRegion builds the geofence region watched during the ride.
func (t *Trip) DestinationRegion(radiusMeters float64) GeofenceRegion {
	return GeofenceRegion{
		TripID:       t.id,
		Kind:         RegionDestination,
		Center:       t.destination,
		RadiusMeters: radiusMeters,
	}
}
