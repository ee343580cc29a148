package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
)

// RequestTripRequest holds the data needed to request a ride.
type RequestTripRequest struct {
	Pickup      geo.Coordinate `json:"pickup" binding:"required"`
	Destination geo.Coordinate `json:"destination" binding:"required"`
}

// TripDTO is the response representation of a trip.
type TripDTO struct {
	ID           uuid.UUID       `json:"id"`
	PassengerID  uuid.UUID       `json:"passenger_id"`
	DriverID     *uuid.UUID      `json:"driver_id,omitempty"`
	Pickup       geo.Coordinate  `json:"pickup"`
	Destination  geo.Coordinate  `json:"destination"`
	State        string          `json:"state"`
	Route        *trip.RouteSpec `json:"route,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	ArrivedAt    *time.Time      `json:"arrived_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TripOffer is what a subscribed driver receives when matched as a candidate.
type TripOffer struct {
	Trip      TripDTO   `json:"trip"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ToTripDTO converts a trip aggregate to its response representation.
func ToTripDTO(t *trip.Trip) TripDTO {
	return TripDTO{
		ID:           t.ID(),
		PassengerID:  t.PassengerID(),
		DriverID:     t.DriverID(),
		Pickup:       t.Pickup(),
		Destination:  t.Destination(),
		State:        string(t.State()),
		Route:        t.Route(),
		CancelReason: t.CancelReason(),
		AcceptedAt:   t.AcceptedAt(),
		ArrivedAt:    t.ArrivedAt(),
		StartedAt:    t.StartedAt(),
		CompletedAt:  t.CompletedAt(),
		CancelledAt:  t.CancelledAt(),
		Version:      t.Version(),
		CreatedAt:    t.CreatedAt(),
		UpdatedAt:    t.UpdatedAt(),
	}
}
