package trip

import (
	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
)

// RegionKind distinguishes the two geofence regions a trip can watch.
type RegionKind string

const (
	RegionPickup      RegionKind = "pickup"
	RegionDestination RegionKind = "destination"
)

// GeofenceRegion is a circular area whose entry triggers a trip transition.
// A pickup region is armed when the trip is accepted; a destination region
// when the ride starts. Regions are released when the corresponding
// transition fires or the trip terminates.
type GeofenceRegion struct {
	TripID       uuid.UUID      `json:"trip_id"`
	Kind         RegionKind     `json:"kind"`
	Center       geo.Coordinate `json:"center"`
	RadiusMeters float64        `json:"radius_meters"`
}

// Contains reports whether the coordinate lies within the region.
func (r GeofenceRegion) Contains(c geo.Coordinate) bool {
	return r.Center.DistanceMeters(c) <= r.RadiusMeters
}

// EntryEvent returns the trip event fired when a driver enters this region.
func (r GeofenceRegion) EntryEvent() Event {
	if r.Kind == RegionPickup {
		return EventDriverEnteredPickup
	}
	return EventDriverEnteredDestination
}
