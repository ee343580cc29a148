package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
)

// Topics.
const (
	TopicTripEvents     = "trip.events"
	TopicDriverLocation = "driver.location"
)

// Event types on trip.events.
const (
	TripRequested          = "trip.requested"
	TripOffered            = "trip.offered"
	TripAccepted           = "trip.accepted"
	TripDenied             = "trip.denied"
	TripDriverArrived      = "trip.driver_arrived"
	TripStarted            = "trip.started"
	TripArrivedDestination = "trip.arrived_destination"
	TripCompleted          = "trip.completed"
	TripCancelled          = "trip.cancelled"
)

// Event types on driver.location.
const (
	DriverLocationUpdated     = "driver.location_updated"
	DriverAvailabilityChanged = "driver.availability_changed"
)

// TripLifecycleEvent is published on every committed trip transition.
type TripLifecycleEvent struct {
	TripID      uuid.UUID      `json:"trip_id"`
	PassengerID uuid.UUID      `json:"passenger_id"`
	DriverID    *uuid.UUID     `json:"driver_id,omitempty"`
	State       string         `json:"state"`
	Pickup      geo.Coordinate `json:"pickup"`
	Destination geo.Coordinate `json:"destination"`
	Reason      string         `json:"reason,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// TripOfferedEvent notifies a candidate driver of a pending offer.
type TripOfferedEvent struct {
	TripID      uuid.UUID      `json:"trip_id"`
	PassengerID uuid.UUID      `json:"passenger_id"`
	DriverID    uuid.UUID      `json:"driver_id"`
	Pickup      geo.Coordinate `json:"pickup"`
	Destination geo.Coordinate `json:"destination"`
	ExpiresAt   time.Time      `json:"expires_at"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// DriverLocationUpdatedEvent is consumed from the driver location feed.
type DriverLocationUpdatedEvent struct {
	DriverID   uuid.UUID      `json:"driver_id"`
	Location   geo.Coordinate `json:"location"`
	Geohash    string         `json:"geohash,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DriverAvailabilityChangedEvent is consumed when a driver goes on or off shift.
type DriverAvailabilityChangedEvent struct {
	DriverID   uuid.UUID `json:"driver_id"`
	Available  bool      `json:"available"`
	OccurredAt time.Time `json:"occurred_at"`
}
