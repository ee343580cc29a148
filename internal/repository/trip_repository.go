package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	tripDomain "github.com/velora-rides/service-dispatch/internal/domain/trip"
	"gorm.io/gorm"
)

// TripModel is the GORM model for the trips table.
type TripModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PassengerID  uuid.UUID       `gorm:"type:uuid;index;not null"`
	DriverID     *uuid.UUID      `gorm:"type:uuid;index"`
	PickupLat    float64         `gorm:"not null"`
	PickupLng    float64         `gorm:"not null"`
	DropoffLat   float64         `gorm:"not null"`
	DropoffLng   float64         `gorm:"not null"`
	State        string          `gorm:"not null;size:30;index"`
	Route        json.RawMessage `gorm:"type:jsonb"`
	CancelledBy  *uuid.UUID      `gorm:"type:uuid"`
	CancelReason string          `gorm:"size:500"`
	AcceptedAt   *time.Time      `gorm:""`
	ArrivedAt    *time.Time      `gorm:""`
	StartedAt    *time.Time      `gorm:""`
	CompletedAt  *time.Time      `gorm:""`
	CancelledAt  *time.Time      `gorm:""`
	Version      int64           `gorm:"not null;default:1"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (TripModel) TableName() string {
	return "trips"
}

// GormTripRepository is the GORM-based implementation of trip.Repository.
type GormTripRepository struct {
	db *gorm.DB
}

// NewGormTripRepository creates a new GormTripRepository.
func NewGormTripRepository(db *gorm.DB) *GormTripRepository {
	return &GormTripRepository{db: db}
}

// FindByID retrieves a trip by its unique identifier.
func (r *GormTripRepository) FindByID(ctx context.Context, id uuid.UUID) (*tripDomain.Trip, error) {
	var model TripModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Trip", id.String())
		}
		return nil, fmt.Errorf("failed to find trip by ID: %w", err)
	}
	return toDomainTrip(&model)
}

// FindByPassengerID retrieves trips requested by a passenger with pagination.
func (r *GormTripRepository) FindByPassengerID(ctx context.Context, passengerID uuid.UUID, page, limit int) ([]*tripDomain.Trip, int64, error) {
	return r.findWhere(ctx, "passenger_id = ?", passengerID, page, limit)
}

// FindByDriverID retrieves trips assigned to a driver with pagination.
func (r *GormTripRepository) FindByDriverID(ctx context.Context, driverID uuid.UUID, page, limit int) ([]*tripDomain.Trip, int64, error) {
	return r.findWhere(ctx, "driver_id = ?", driverID, page, limit)
}

// ListAll retrieves all trips with pagination (admin).
func (r *GormTripRepository) ListAll(ctx context.Context, page, limit int) ([]*tripDomain.Trip, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&TripModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	var models []TripModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list trips: %w", err)
	}
	return r.toDomainTrips(models, total)
}

// CountByState returns trip counts grouped by state (admin).
func (r *GormTripRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	type stateCount struct {
		State string
		Count int64
	}
	var results []stateCount
	if err := r.db.WithContext(ctx).Model(&TripModel{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.State] = sc.Count
	}
	return counts, nil
}

// Save persists a new trip.
func (r *GormTripRepository) Save(ctx context.Context, t *tripDomain.Trip) error {
	model, err := toTripModel(t)
	if err != nil {
		return fmt.Errorf("failed to convert trip to model: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

// Update persists changes to an existing trip with optimistic locking.
func (r *GormTripRepository) Update(ctx context.Context, t *tripDomain.Trip) error {
	model, err := toTripModel(t)
	if err != nil {
		return fmt.Errorf("failed to convert trip to model: %w", err)
	}

	// Version was already bumped by the transition; match against the prior one.
	expectedVersion := t.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&TripModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"driver_id":     model.DriverID,
			"state":         model.State,
			"route":         model.Route,
			"cancelled_by":  model.CancelledBy,
			"cancel_reason": model.CancelReason,
			"accepted_at":   model.AcceptedAt,
			"arrived_at":    model.ArrivedAt,
			"started_at":    model.StartedAt,
			"completed_at":  model.CompletedAt,
			"cancelled_at":  model.CancelledAt,
			"version":       model.Version,
			"updated_at":    model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update trip: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("trip was modified by another transaction")
	}
	return nil
}

func (r *GormTripRepository) findWhere(ctx context.Context, query string, arg interface{}, page, limit int) ([]*tripDomain.Trip, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&TripModel{}).Where(query, arg).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	var models []TripModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where(query, arg).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trips: %w", err)
	}
	return r.toDomainTrips(models, total)
}

func (r *GormTripRepository) toDomainTrips(models []TripModel, total int64) ([]*tripDomain.Trip, int64, error) {
	trips := make([]*tripDomain.Trip, len(models))
	for i, m := range models {
		t, err := toDomainTrip(&m)
		if err != nil {
			return nil, 0, err
		}
		trips[i] = t
	}
	return trips, total, nil
}

// --- Conversion Helpers ---

func toTripModel(t *tripDomain.Trip) (*TripModel, error) {
	var routeJSON json.RawMessage
	if t.Route() != nil {
		data, err := json.Marshal(t.Route())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal route: %w", err)
		}
		routeJSON = data
	}

	return &TripModel{
		ID:           t.ID(),
		PassengerID:  t.PassengerID(),
		DriverID:     t.DriverID(),
		PickupLat:    t.Pickup().Latitude,
		PickupLng:    t.Pickup().Longitude,
		DropoffLat:   t.Destination().Latitude,
		DropoffLng:   t.Destination().Longitude,
		State:        string(t.State()),
		Route:        routeJSON,
		CancelledBy:  t.CancelledBy(),
		CancelReason: t.CancelReason(),
		AcceptedAt:   t.AcceptedAt(),
		ArrivedAt:    t.ArrivedAt(),
		StartedAt:    t.StartedAt(),
		CompletedAt:  t.CompletedAt(),
		CancelledAt:  t.CancelledAt(),
		Version:      t.Version(),
		CreatedAt:    t.CreatedAt(),
		UpdatedAt:    t.UpdatedAt(),
	}, nil
}

func toDomainTrip(m *TripModel) (*tripDomain.Trip, error) {
	var route *tripDomain.RouteSpec
	if len(m.Route) > 0 {
		var rs tripDomain.RouteSpec
		if err := json.Unmarshal(m.Route, &rs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route: %w", err)
		}
		route = &rs
	}

	state, err := tripDomain.ParseState(m.State)
	if err != nil {
		return nil, err
	}

	return tripDomain.ReconstructTrip(
		m.ID,
		m.PassengerID,
		m.DriverID,
		geo.Coordinate{Latitude: m.PickupLat, Longitude: m.PickupLng},
		geo.Coordinate{Latitude: m.DropoffLat, Longitude: m.DropoffLng},
		state,
		route,
		m.CancelledBy,
		m.CancelReason,
		m.AcceptedAt,
		m.ArrivedAt,
		m.StartedAt,
		m.CompletedAt,
		m.CancelledAt,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}
