package geofence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
	"go.uber.org/zap"
)

// Monitor watches driver positions against the geofence regions of their
// assigned trips. Entry detection is edge-triggered: a region fires at most
// once, no matter how many position updates arrive inside it.
type Monitor struct {
	mu       sync.Mutex
	byDriver map[uuid.UUID]map[trip.RegionKind]*watch
	byTrip   map[uuid.UUID]uuid.UUID
	logger   *zap.Logger
}

type watch struct {
	region trip.GeofenceRegion
	fired  bool
}

// NewMonitor creates an empty geofence monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		byDriver: make(map[uuid.UUID]map[trip.RegionKind]*watch),
		byTrip:   make(map[uuid.UUID]uuid.UUID),
		logger:   logger,
	}
}

// Track arms a region for the trip's assigned driver. Re-arming the same
// kind replaces the previous watch.
func (m *Monitor) Track(driverID uuid.UUID, region trip.GeofenceRegion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	watches, ok := m.byDriver[driverID]
	if !ok {
		watches = make(map[trip.RegionKind]*watch)
		m.byDriver[driverID] = watches
	}
	watches[region.Kind] = &watch{region: region}
	m.byTrip[region.TripID] = driverID

	m.logger.Debug("geofence region armed",
		zap.String("trip_id", region.TripID.String()),
		zap.String("driver_id", driverID.String()),
		zap.String("kind", string(region.Kind)),
	)
}

// Release drops one region of a trip, if armed.
func (m *Monitor) Release(tripID uuid.UUID, kind trip.RegionKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	driverID, ok := m.byTrip[tripID]
	if !ok {
		return
	}
	watches := m.byDriver[driverID]
	delete(watches, kind)
	if len(watches) == 0 {
		delete(m.byDriver, driverID)
		delete(m.byTrip, tripID)
	}
}

// ReleaseTrip drops all regions of a trip. Called when the trip terminates.
func (m *Monitor) ReleaseTrip(tripID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	driverID, ok := m.byTrip[tripID]
	if !ok {
		return
	}
	delete(m.byDriver, driverID)
	delete(m.byTrip, tripID)
}

// Evaluate checks a position update against the driver's armed regions and
// returns the regions entered by this update. Each region is returned at
// most once over its lifetime; repeated updates inside a region return
// nothing.
func (m *Monitor) Evaluate(driverID uuid.UUID, position geo.Coordinate) []trip.GeofenceRegion {
	m.mu.Lock()
	defer m.mu.Unlock()

	watches, ok := m.byDriver[driverID]
	if !ok {
		return nil
	}

	var entered []trip.GeofenceRegion
	for _, w := range watches {
		if w.fired || !w.region.Contains(position) {
			continue
		}
		w.fired = true
		entered = append(entered, w.region)
	}
	return entered
}
