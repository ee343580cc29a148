package trip

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for trip aggregates. The
// in-memory registry serves the hot path; the repository is the durable
// record behind it.
type Repository interface {
	// FindByID retrieves a trip by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Trip, error)

	// FindByPassengerID retrieves trips requested by a passenger with pagination.
	FindByPassengerID(ctx context.Context, passengerID uuid.UUID, page, limit int) ([]*Trip, int64, error)

	// FindByDriverID retrieves trips assigned to a driver with pagination.
	FindByDriverID(ctx context.Context, driverID uuid.UUID, page, limit int) ([]*Trip, int64, error)

	// ListAll retrieves all trips with pagination (admin).
	ListAll(ctx context.Context, page, limit int) ([]*Trip, int64, error)

	// CountByState returns trip counts grouped by state (admin).
	CountByState(ctx context.Context) (map[string]int64, error)

	// Save persists a new trip.
	Save(ctx context.Context, t *Trip) error

	// Update persists changes to an existing trip with optimistic locking.
	Update(ctx context.Context, t *Trip) error
}
