package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
	"github.com/velora-rides/service-dispatch/internal/events"
	"github.com/velora-rides/service-dispatch/internal/geofence"
	"github.com/velora-rides/service-dispatch/internal/geoindex"
	"github.com/velora-rides/service-dispatch/internal/registry"
	"github.com/velora-rides/service-dispatch/internal/routing"
	"go.uber.org/zap"
)

const eventSource = "service-dispatch"

// expireTimeout bounds the background transition fired by an offer timer.
const expireTimeout = 5 * time.Second

// MatchingConfig holds the tunables of the matching and geofencing pipeline.
type MatchingConfig struct {
	MatchRadiusMeters             float64
	MaxCandidates                 int
	OfferTimeout                  time.Duration
	PickupRegionRadiusMeters      float64
	DestinationRegionRadiusMeters float64
}

// pendingOffer tracks a trip offered to a driver that has not answered yet.
// The driver stays available in the index so an unacknowledged offer never
// blocks them; the offer table is what prevents a second concurrent offer.
type pendingOffer struct {
	tripID    uuid.UUID
	driverID  uuid.UUID
	timer     *time.Timer
	expiresAt time.Time
}

// TripService orchestrates trip matching and the trip lifecycle.
type TripService struct {
	registry *registry.Registry
	repo     trip.Repository
	index    *geoindex.Index
	monitor  *geofence.Monitor
	router   routing.Provider
	producer events.Publisher
	logger   *zap.Logger
	cfg      MatchingConfig

	offerMu       sync.Mutex
	offers        map[uuid.UUID]*pendingOffer
	offerByDriver map[uuid.UUID]uuid.UUID
	offerSubs     map[uuid.UUID]map[int64]chan TripOffer
	nextOfferSub  int64
}

// NewTripService creates a new TripService.
func NewTripService(
	reg *registry.Registry,
	repo trip.Repository,
	index *geoindex.Index,
	monitor *geofence.Monitor,
	router routing.Provider,
	producer events.Publisher,
	logger *zap.Logger,
	cfg MatchingConfig,
) *TripService {
	return &TripService{
		registry:      reg,
		repo:          repo,
		index:         index,
		monitor:       monitor,
		router:        router,
		producer:      producer,
		logger:        logger,
		cfg:           cfg,
		offers:        make(map[uuid.UUID]*pendingOffer),
		offerByDriver: make(map[uuid.UUID]uuid.UUID),
		offerSubs:     make(map[uuid.UUID]map[int64]chan TripOffer),
	}
}

// RequestTrip creates a trip for the passenger and offers it to the nearest
// available driver. When no driver is in range the trip is returned in the
// denied state rather than as an error, so the caller always gets a trip
// record reflecting the outcome.
func (s *TripService) RequestTrip(ctx context.Context, passengerID uuid.UUID, req RequestTripRequest) (*TripDTO, error) {
	if existing := s.registry.FindByPassenger(passengerID); existing != nil {
		return nil, domain.NewAlreadyInTripError("passenger", passengerID.String())
	}

	t, err := trip.NewTrip(passengerID, req.Pickup, req.Destination)
	if err != nil {
		return nil, err
	}

	// The route is advisory: the trip proceeds without geometry if the
	// provider is unreachable.
	if route, err := s.router.Route(ctx, req.Pickup, req.Destination); err != nil {
		s.logger.Warn("routing provider failed, continuing without route",
			zap.String("trip_id", t.ID().String()),
			zap.Error(err),
		)
	} else {
		t.SetRoute(route)
	}

	candidate, offer := s.reserveCandidate(t)
	if candidate == nil {
		if err := t.Apply(trip.EventNoDriverAvailable); err != nil {
			return nil, err
		}
		if err := s.repo.Save(ctx, t); err != nil {
			return nil, err
		}
		s.publishLifecycle(ctx, events.TripRequested, t, "")
		s.publishLifecycle(ctx, events.TripDenied, t, "no_driver_available")

		s.logger.Info("trip denied, no driver in range",
			zap.String("trip_id", t.ID().String()),
			zap.Float64("radius_m", s.cfg.MatchRadiusMeters),
		)
		dto := ToTripDTO(t)
		return &dto, nil
	}

	if err := s.registry.Register(t); err != nil {
		s.releaseOffer(t.ID())
		return nil, err
	}
	if err := s.repo.Save(ctx, t); err != nil {
		s.releaseOffer(t.ID())
		s.registry.Drop(t.ID())
		return nil, err
	}

	offer.timer = time.AfterFunc(s.cfg.OfferTimeout, func() { s.expireOffer(t.ID()) })
	s.notifyOffer(candidate.ID, TripOffer{Trip: ToTripDTO(t), ExpiresAt: offer.expiresAt})

	s.publishLifecycle(ctx, events.TripRequested, t, "")
	s.publishOffered(ctx, t, candidate.ID, offer.expiresAt)

	s.logger.Info("trip offered",
		zap.String("trip_id", t.ID().String()),
		zap.String("driver_id", candidate.ID.String()),
	)
	dto := ToTripDTO(t)
	return &dto, nil
}

// AcceptTrip confirms the offered driver's acceptance. The driver must be the
// current candidate and still available; on success they are marked
// unavailable and the pickup geofence region is armed. A redelivered accept
// from the driver who already holds the trip is a no-op success.
func (s *TripService) AcceptTrip(ctx context.Context, tripID, driverID uuid.UUID) (*TripDTO, error) {
	s.offerMu.Lock()
	offer, hasOffer := s.offers[tripID]
	if hasOffer && offer.driverID != driverID {
		s.offerMu.Unlock()
		return nil, domain.NewNotCurrentOfferError(tripID.String())
	}
	s.offerMu.Unlock()

	var redelivered bool
	committed, err := s.registry.Mutate(tripID, func(t *trip.Trip) error {
		if t.State() == trip.StateAccepted && t.DriverID() != nil && *t.DriverID() == driverID {
			redelivered = true
			return nil
		}
		// A missing offer row while the trip is still requested means the
		// offer expired between the table check and this lock.
		if !hasOffer && t.State() == trip.StateRequested {
			return domain.NewNotCurrentOfferError(tripID.String())
		}
		rec, known := s.index.Get(driverID)
		if !known || !rec.Available {
			return domain.NewDriverUnavailableError(driverID.String())
		}
		if err := t.Match(driverID); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	if redelivered {
		dto := ToTripDTO(committed)
		return &dto, nil
	}

	s.releaseOffer(tripID)
	s.index.SetAvailability(driverID, false)
	s.monitor.Track(driverID, committed.PickupRegion(s.cfg.PickupRegionRadiusMeters))
	s.publishLifecycle(ctx, events.TripAccepted, committed, "")

	s.logger.Info("trip accepted",
		zap.String("trip_id", tripID.String()),
		zap.String("driver_id", driverID.String()),
	)
	dto := ToTripDTO(committed)
	return &dto, nil
}

// DenyTrip lets the offered driver decline. The trip is denied immediately
// instead of waiting out the offer timer.
func (s *TripService) DenyTrip(ctx context.Context, tripID, driverID uuid.UUID) (*TripDTO, error) {
	s.offerMu.Lock()
	offer, hasOffer := s.offers[tripID]
	if !hasOffer || offer.driverID != driverID {
		s.offerMu.Unlock()
		return nil, domain.NewNotCurrentOfferError(tripID.String())
	}
	s.offerMu.Unlock()
	s.releaseOffer(tripID)

	committed, err := s.registry.Mutate(tripID, func(t *trip.Trip) error {
		if err := t.Apply(trip.EventMatchTimeout); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.publishLifecycle(ctx, events.TripDenied, committed, "driver_declined")
	dto := ToTripDTO(committed)
	return &dto, nil
}

// CancelTrip cancels an active trip on behalf of its passenger or driver.
// A passenger may also withdraw a trip that is still waiting on an offer.
func (s *TripService) CancelTrip(ctx context.Context, tripID, callerID uuid.UUID, asDriver bool, reason string) (*TripDTO, error) {
	event := trip.EventPassengerCancels
	if asDriver {
		event = trip.EventDriverCancels
	}

	committed, err := s.registry.Mutate(tripID, func(t *trip.Trip) error {
		if asDriver {
			if t.DriverID() == nil || *t.DriverID() != callerID {
				return domain.NewForbiddenError("trip is not assigned to this driver")
			}
		} else if t.PassengerID() != callerID {
			return domain.NewForbiddenError("trip does not belong to this passenger")
		}

		if t.State() == trip.StateRequested {
			// Withdrawing an unanswered request takes the timeout path.
			if asDriver {
				return domain.NewInvalidTransitionError(string(t.State()), string(event))
			}
			if err := t.Apply(trip.EventMatchTimeout); err != nil {
				return err
			}
		} else if err := t.Cancel(event, callerID, reason); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.releaseOffer(tripID)
	s.monitor.ReleaseTrip(tripID)
	if committed.DriverID() != nil {
		s.index.SetAvailability(*committed.DriverID(), true)
	}
	s.publishLifecycle(ctx, events.TripCancelled, committed, reason)

	s.logger.Info("trip cancelled",
		zap.String("trip_id", tripID.String()),
		zap.Bool("by_driver", asDriver),
	)
	dto := ToTripDTO(committed)
	return &dto, nil
}

// ConfirmPickup marks the passenger as picked up and the ride in progress.
// The pickup region is released and the destination region armed.
func (s *TripService) ConfirmPickup(ctx context.Context, tripID, driverID uuid.UUID) (*TripDTO, error) {
	committed, err := s.mutateAsDriver(ctx, tripID, driverID, trip.EventDriverConfirmsPickup)
	if err != nil {
		return nil, err
	}

	s.monitor.Release(tripID, trip.RegionPickup)
	s.monitor.Track(driverID, committed.DestinationRegion(s.cfg.DestinationRegionRadiusMeters))
	s.publishLifecycle(ctx, events.TripStarted, committed, "")

	dto := ToTripDTO(committed)
	return &dto, nil
}

// ConfirmDropoff completes the trip. All regions are released and the driver
// becomes available again.
func (s *TripService) ConfirmDropoff(ctx context.Context, tripID, driverID uuid.UUID) (*TripDTO, error) {
	committed, err := s.mutateAsDriver(ctx, tripID, driverID, trip.EventDriverConfirmsDropoff)
	if err != nil {
		return nil, err
	}

	s.monitor.ReleaseTrip(tripID)
	s.index.SetAvailability(driverID, true)
	s.publishLifecycle(ctx, events.TripCompleted, committed, "")

	s.logger.Info("trip completed", zap.String("trip_id", tripID.String()))
	dto := ToTripDTO(committed)
	return &dto, nil
}

// HandleRegionEntry applies the transition a geofence entry stands for.
// Region entries are edge-triggered upstream, and re-delivery of an entry
// whose transition already happened is a no-op, so this is safe to retry.
func (s *TripService) HandleRegionEntry(ctx context.Context, region trip.GeofenceRegion) error {
	event := region.EntryEvent()
	committed, err := s.registry.Mutate(region.TripID, func(t *trip.Trip) error {
		if err := t.Apply(event); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return err
	}

	eventType := events.TripDriverArrived
	if region.Kind == trip.RegionDestination {
		eventType = events.TripArrivedDestination
	}
	s.publishLifecycle(ctx, eventType, committed, "")

	s.logger.Info("geofence transition fired",
		zap.String("trip_id", region.TripID.String()),
		zap.String("kind", string(region.Kind)),
	)
	return nil
}

// GetTrip returns the live trip if active, falling back to the durable record.
func (s *TripService) GetTrip(ctx context.Context, tripID uuid.UUID) (*TripDTO, error) {
	if t, err := s.registry.Get(tripID); err == nil {
		dto := ToTripDTO(t)
		return &dto, nil
	}
	t, err := s.repo.FindByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	dto := ToTripDTO(t)
	return &dto, nil
}

// GetPassengerTrips retrieves paginated trips for a passenger.
func (s *TripService) GetPassengerTrips(ctx context.Context, passengerID uuid.UUID, page, limit int) ([]TripDTO, int64, error) {
	trips, total, err := s.repo.FindByPassengerID(ctx, passengerID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	return toTripDTOs(trips), total, nil
}

// GetDriverTrips retrieves paginated trips for a driver.
func (s *TripService) GetDriverTrips(ctx context.Context, driverID uuid.UUID, page, limit int) ([]TripDTO, int64, error) {
	trips, total, err := s.repo.FindByDriverID(ctx, driverID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	return toTripDTOs(trips), total, nil
}

// ListAllTrips returns a paginated list of all trips (admin).
func (s *TripService) ListAllTrips(ctx context.Context, page, limit int) ([]TripDTO, int64, error) {
	trips, total, err := s.repo.ListAll(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	return toTripDTOs(trips), total, nil
}

// TripStatsDTO holds trip statistics for the admin dashboard.
type TripStatsDTO struct {
	TotalTrips  int64            `json:"total_trips"`
	ActiveTrips int              `json:"active_trips"`
	ByState     map[string]int64 `json:"by_state"`
}

// GetTripStats returns aggregate trip statistics (admin).
func (s *TripService) GetTripStats(ctx context.Context) (*TripStatsDTO, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return &TripStatsDTO{
		TotalTrips:  total,
		ActiveTrips: s.registry.ActiveCount(),
		ByState:     counts,
	}, nil
}

// SubscribeTrip attaches an observer to an active trip's state stream.
func (s *TripService) SubscribeTrip(tripID uuid.UUID) (*registry.Subscription, error) {
	return s.registry.Subscribe(tripID)
}

// SubscribeOffers attaches a driver to their offer stream.
func (s *TripService) SubscribeOffers(driverID uuid.UUID) (<-chan TripOffer, func()) {
	s.offerMu.Lock()
	id := s.nextOfferSub
	s.nextOfferSub++
	ch := make(chan TripOffer, 4)
	subs, ok := s.offerSubs[driverID]
	if !ok {
		subs = make(map[int64]chan TripOffer)
		s.offerSubs[driverID] = subs
	}
	subs[id] = ch
	s.offerMu.Unlock()

	cancel := func() {
		s.offerMu.Lock()
		if subs, ok := s.offerSubs[driverID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(s.offerSubs, driverID)
			}
		}
		s.offerMu.Unlock()
	}
	return ch, cancel
}

// --- Matching internals ---

// reserveCandidate picks the nearest available driver without a pending
// offer or active trip, and records the tentative reservation.
func (s *TripService) reserveCandidate(t *trip.Trip) (*geoindex.DriverRecord, *pendingOffer) {
	candidates := s.index.QueryNearby(t.Pickup(), s.cfg.MatchRadiusMeters, s.cfg.MaxCandidates)

	s.offerMu.Lock()
	defer s.offerMu.Unlock()

	for i := range candidates {
		c := &candidates[i]
		if _, busy := s.offerByDriver[c.ID]; busy {
			continue
		}
		if s.registry.FindByDriver(c.ID) != nil {
			continue
		}

		offer := &pendingOffer{
			tripID:    t.ID(),
			driverID:  c.ID,
			expiresAt: time.Now().UTC().Add(s.cfg.OfferTimeout),
		}
		s.offers[t.ID()] = offer
		s.offerByDriver[c.ID] = t.ID()
		return c, offer
	}
	return nil, nil
}

// releaseOffer removes a pending offer and stops its timer, if still present.
func (s *TripService) releaseOffer(tripID uuid.UUID) {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()

	offer, ok := s.offers[tripID]
	if !ok {
		return
	}
	if offer.timer != nil {
		offer.timer.Stop()
	}
	delete(s.offers, tripID)
	delete(s.offerByDriver, offer.driverID)
}

// expireOffer fires when the offered driver never answered. The trip takes
// the matchTimeout path to denied.
func (s *TripService) expireOffer(tripID uuid.UUID) {
	s.offerMu.Lock()
	offer, ok := s.offers[tripID]
	if ok {
		delete(s.offers, tripID)
		delete(s.offerByDriver, offer.driverID)
	}
	s.offerMu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	committed, err := s.registry.Mutate(tripID, func(t *trip.Trip) error {
		if err := t.Apply(trip.EventMatchTimeout); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		// The trip was accepted or cancelled in the meantime.
		s.logger.Debug("offer expiry superseded",
			zap.String("trip_id", tripID.String()),
			zap.Error(err),
		)
		return
	}

	s.publishLifecycle(ctx, events.TripDenied, committed, "offer_timeout")
	s.logger.Info("offer expired, trip denied",
		zap.String("trip_id", tripID.String()),
		zap.String("driver_id", offer.driverID.String()),
	)
}

func (s *TripService) notifyOffer(driverID uuid.UUID, offer TripOffer) {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()

	for _, ch := range s.offerSubs[driverID] {
		select {
		case ch <- offer:
		default:
		}
	}
}

// mutateAsDriver runs a driver-confirmed transition under the per-trip lock.
func (s *TripService) mutateAsDriver(ctx context.Context, tripID, driverID uuid.UUID, event trip.Event) (*trip.Trip, error) {
	return s.registry.Mutate(tripID, func(t *trip.Trip) error {
		if t.DriverID() == nil || *t.DriverID() != driverID {
			return domain.NewForbiddenError("trip is not assigned to this driver")
		}
		if err := t.Apply(event); err != nil {
			return err
		}
		t.IncrementVersion()
		return s.repo.Update(ctx, t)
	})
}

func (s *TripService) publishLifecycle(ctx context.Context, eventType string, t *trip.Trip, reason string) {
	evt := events.TripLifecycleEvent{
		TripID:      t.ID(),
		PassengerID: t.PassengerID(),
		DriverID:    t.DriverID(),
		State:       string(t.State()),
		Pickup:      t.Pickup(),
		Destination: t.Destination(),
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	}
	s.publishEvent(ctx, eventType, t.ID().String(), evt)
}

func (s *TripService) publishOffered(ctx context.Context, t *trip.Trip, driverID uuid.UUID, expiresAt time.Time) {
	evt := events.TripOfferedEvent{
		TripID:      t.ID(),
		PassengerID: t.PassengerID(),
		DriverID:    driverID,
		Pickup:      t.Pickup(),
		Destination: t.Destination(),
		ExpiresAt:   expiresAt,
		OccurredAt:  time.Now().UTC(),
	}
	s.publishEvent(ctx, events.TripOffered, t.ID().String(), evt)
}

func (s *TripService) publishEvent(ctx context.Context, eventType, key string, data interface{}) {
	cloudEvent, err := events.NewCloudEvent(eventSource, eventType, data)
	if err != nil {
		s.logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	if err := s.producer.PublishEvent(ctx, events.TopicTripEvents, key, cloudEvent); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func toTripDTOs(trips []*trip.Trip) []TripDTO {
	dtos := make([]TripDTO, len(trips))
	for i, t := range trips {
		dtos[i] = ToTripDTO(t)
	}
	return dtos
}
