package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/geofence"
	"github.com/velora-rides/service-dispatch/internal/geoindex"
	"go.uber.org/zap"
)

// DriverService is the ingestion point for the driver location and
// availability feed, from both the HTTP surface and the Kafka topic.
type DriverService struct {
	index   *geoindex.Index
	monitor *geofence.Monitor
	trips   *TripService
	logger  *zap.Logger
}

// NewDriverService creates a new DriverService.
func NewDriverService(
	index *geoindex.Index,
	monitor *geofence.Monitor,
	trips *TripService,
	logger *zap.Logger,
) *DriverService {
	return &DriverService{
		index:   index,
		monitor: monitor,
		trips:   trips,
		logger:  logger,
	}
}

// UpdateLocation records a driver position and evaluates it against the
// geofence regions of the driver's trip, firing arrival transitions on the
// first update inside a region.
func (s *DriverService) UpdateLocation(ctx context.Context, driverID uuid.UUID, position geo.Coordinate) error {
	if driverID == uuid.Nil {
		return domain.NewValidationError("driver ID is required")
	}
	if !position.IsValid() {
		return domain.NewValidationError("position is out of range")
	}

	s.index.UpdateLocation(driverID, position)

	for _, region := range s.monitor.Evaluate(driverID, position) {
		if err := s.trips.HandleRegionEntry(ctx, region); err != nil {
			s.logger.Error("region entry transition failed",
				zap.String("trip_id", region.TripID.String()),
				zap.String("driver_id", driverID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// SetAvailability flips whether the driver can be matched. A driver must
// have reported at least one position before going on shift.
func (s *DriverService) SetAvailability(ctx context.Context, driverID uuid.UUID, available bool) error {
	if driverID == uuid.Nil {
		return domain.NewValidationError("driver ID is required")
	}
	if !s.index.SetAvailability(driverID, available) {
		return domain.NewNotFoundError("Driver", driverID.String())
	}
	s.logger.Info("driver availability changed",
		zap.String("driver_id", driverID.String()),
		zap.Bool("available", available),
	)
	return nil
}

// GoOffline removes the driver from the index entirely.
func (s *DriverService) GoOffline(ctx context.Context, driverID uuid.UUID) {
	s.index.Remove(driverID)
	s.logger.Info("driver went offline", zap.String("driver_id", driverID.String()))
}

// NearbyDrivers returns available drivers around a point, nearest first.
func (s *DriverService) NearbyDrivers(center geo.Coordinate, radiusMeters float64, limit int) ([]geoindex.DriverRecord, error) {
	if !center.IsValid() {
		return nil, domain.NewValidationError("center is out of range")
	}
	return s.index.QueryNearby(center, radiusMeters, limit), nil
}

// SubscribeNearby streams the set of nearby drivers for live map updates.
func (s *DriverService) SubscribeNearby(center geo.Coordinate, radiusMeters float64, limit int) (<-chan []geoindex.DriverRecord, func(), error) {
	if !center.IsValid() {
		return nil, nil, domain.NewValidationError("center is out of range")
	}
	ch, cancel := s.index.SubscribeNearby(center, radiusMeters, limit)
	return ch, cancel, nil
}
