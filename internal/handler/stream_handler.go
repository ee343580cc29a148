package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/application"
	"github.com/velora-rides/service-dispatch/internal/auth"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/middleware"
	"github.com/velora-rides/service-dispatch/internal/response"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement belongs to the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler serves websocket streams for trip updates, driver offers and
// nearby-driver snapshots.
type StreamHandler struct {
	trips   *application.TripService
	drivers *application.DriverService
	logger  *zap.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(trips *application.TripService, drivers *application.DriverService, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{trips: trips, drivers: drivers, logger: logger}
}

// RegisterRoutes registers websocket routes. Clients authenticate with a
// `token` query parameter since headers cannot be set on upgrade requests.
func (h *StreamHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	ws := r.Group("/ws")
	ws.Use(authMW)
	{
		ws.GET("/trips/:id", h.StreamTrip)
		ws.GET("/offers", middleware.RequireRole(auth.RoleDriver), h.StreamOffers)
		ws.GET("/drivers/nearby", h.StreamNearbyDrivers)
	}
}

// StreamTrip handles GET /ws/trips/:id. Pushes a snapshot of the trip after
// every state change, starting with the current state, until the trip reaches
// a terminal state or the client disconnects.
func (h *StreamHandler) StreamTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	sub, err := h.trips.SubscribeTrip(tripID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer sub.Cancel()

	done := watchConn(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case t, ok := <-sub.C():
			if !ok {
				// Trip reached a terminal state.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trip finished"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(application.ToTripDTO(t)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// StreamOffers handles GET /ws/offers. Pushes trip offers to the connected
// driver as the matcher produces them.
func (h *StreamHandler) StreamOffers(c *gin.Context) {
	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	offers, cancel := h.trips.SubscribeOffers(driverID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer cancel()

	done := watchConn(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case offer := <-offers:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(offer); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// StreamNearbyDrivers handles GET /ws/drivers/nearby. Pushes a fresh snapshot
// of available drivers around a point whenever the set changes.
func (h *StreamHandler) StreamNearbyDrivers(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(c, "lat and lng query parameters are required")
		return
	}

	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius", "5000"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	snapshots, cancel, err := h.drivers.SubscribeNearby(geo.Coordinate{Latitude: lat, Longitude: lng}, radius, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer cancel()

	done := watchConn(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case snapshot := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// watchConn drains incoming frames so control messages are processed and
// signals when the peer disconnects.
func watchConn(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
