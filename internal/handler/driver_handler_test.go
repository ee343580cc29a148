package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/application"
	"github.com/velora-rides/service-dispatch/internal/auth"
	"github.com/velora-rides/service-dispatch/internal/domain"
	"github.com/velora-rides/service-dispatch/internal/domain/trip"
	"github.com/velora-rides/service-dispatch/internal/events"
	"github.com/velora-rides/service-dispatch/internal/geofence"
	"github.com/velora-rides/service-dispatch/internal/geoindex"
	"github.com/velora-rides/service-dispatch/internal/registry"
	"github.com/velora-rides/service-dispatch/internal/routing"
)

type stubTripRepository struct{}

func (stubTripRepository) FindByID(_ context.Context, id uuid.UUID) (*trip.Trip, error) {
	return nil, domain.NewNotFoundError("Trip", id.String())
}

func (stubTripRepository) FindByPassengerID(context.Context, uuid.UUID, int, int) ([]*trip.Trip, int64, error) {
	return nil, 0, nil
}

func (stubTripRepository) FindByDriverID(context.Context, uuid.UUID, int, int) ([]*trip.Trip, int64, error) {
	return nil, 0, nil
}

func (stubTripRepository) ListAll(context.Context, int, int) ([]*trip.Trip, int64, error) {
	return nil, 0, nil
}

func (stubTripRepository) CountByState(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (stubTripRepository) Save(context.Context, *trip.Trip) error   { return nil }
func (stubTripRepository) Update(context.Context, *trip.Trip) error { return nil }

type stubPublisher struct{}

func (stubPublisher) PublishEvent(context.Context, string, string, events.CloudEvent) error {
	return nil
}

func newDriverRouter(t *testing.T) (*gin.Engine, *geoindex.Index, string, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	index := geoindex.New()
	monitor := geofence.NewMonitor(zap.NewNop())
	tripSvc := application.NewTripService(
		registry.New(zap.NewNop()),
		stubTripRepository{},
		index,
		monitor,
		routing.NewHaversineEstimator(),
		stubPublisher{},
		zap.NewNop(),
		application.MatchingConfig{
			MatchRadiusMeters:             5000,
			MaxCandidates:                 1,
			OfferTimeout:                  time.Second,
			PickupRegionRadiusMeters:      25,
			DestinationRegionRadiusMeters: 25,
		},
	)
	driverSvc := application.NewDriverService(index, monitor, tripSvc, zap.NewNop())

	jwtManager := auth.NewJWTManager("test-secret", time.Minute)
	driverID := uuid.New()
	token, err := jwtManager.GenerateAccessToken(driverID, auth.RoleDriver)
	require.NoError(t, err)

	router := gin.New()
	NewDriverHandler(driverSvc).RegisterRoutes(&router.RouterGroup, jwtManager)
	return router, index, token, driverID
}

func putLocation(t *testing.T, router *gin.Engine, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/drivers/me/location", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUpdateLocation(t *testing.T) {
	t.Run("accepts zero coordinates", func(t *testing.T) {
		router, index, token, driverID := newDriverRouter(t)

		// A driver on the equator reports latitude 0.
		w := putLocation(t, router, token, gin.H{"latitude": 0.0, "longitude": 103.85})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

		rec, ok := index.Get(driverID)
		require.True(t, ok)
		assert.Equal(t, 0.0, rec.Location.Latitude)
		assert.Equal(t, 103.85, rec.Location.Longitude)
	})

	t.Run("rejects a missing field", func(t *testing.T) {
		router, _, token, _ := newDriverRouter(t)

		w := putLocation(t, router, token, gin.H{"latitude": 37.7858})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects out-of-range coordinates", func(t *testing.T) {
		router, _, token, _ := newDriverRouter(t)

		w := putLocation(t, router, token, gin.H{"latitude": -92.0, "longitude": 0.0})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		router, _, _, _ := newDriverRouter(t)

		w := putLocation(t, router, "", gin.H{"latitude": 1.0, "longitude": 1.0})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
