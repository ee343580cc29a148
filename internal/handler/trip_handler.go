package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/application"
	"github.com/velora-rides/service-dispatch/internal/auth"
	"github.com/velora-rides/service-dispatch/internal/middleware"
	"github.com/velora-rides/service-dispatch/internal/response"
)

// TripHandler handles HTTP requests for trip operations.
type TripHandler struct {
	service *application.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(service *application.TripService) *TripHandler {
	return &TripHandler{service: service}
}

// RegisterRoutes registers all trip routes on the given router group.
func (h *TripHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	trips := r.Group("/api/v1/trips")
	trips.Use(authMW)
	{
		trips.POST("", middleware.RequireRole(auth.RolePassenger), h.RequestTrip)
		trips.GET("", h.ListTrips)
		trips.GET("/:id", h.GetTrip)
		trips.POST("/:id/accept", middleware.RequireRole(auth.RoleDriver), h.AcceptTrip)
		trips.POST("/:id/deny", middleware.RequireRole(auth.RoleDriver), h.DenyTrip)
		trips.POST("/:id/cancel", h.CancelTrip)
		trips.POST("/:id/pickup", middleware.RequireRole(auth.RoleDriver), h.ConfirmPickup)
		trips.POST("/:id/dropoff", middleware.RequireRole(auth.RoleDriver), h.ConfirmDropoff)
	}
}

// RequestTrip handles POST /api/v1/trips.
func (h *TripHandler) RequestTrip(c *gin.Context) {
	passengerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.RequestTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.RequestTrip(c.Request.Context(), passengerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListTrips handles GET /api/v1/trips. Filters by role (passenger sees own
// requests, driver sees assigned trips).
func (h *TripHandler) ListTrips(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	role, ok := middleware.GetUserRole(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, limit := parsePagination(c)

	var (
		trips []application.TripDTO
		total int64
		err   error
	)
	if role == auth.RoleDriver {
		trips, total, err = h.service.GetDriverTrips(c.Request.Context(), userID, page, limit)
	} else {
		trips, total, err = h.service.GetPassengerTrips(c.Request.Context(), userID, page, limit)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, trips, total, page, limit)
}

// GetTrip handles GET /api/v1/trips/:id.
func (h *TripHandler) GetTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	result, err := h.service.GetTrip(c.Request.Context(), tripID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AcceptTrip handles POST /api/v1/trips/:id/accept.
func (h *TripHandler) AcceptTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.service.AcceptTrip(c.Request.Context(), tripID, driverID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DenyTrip handles POST /api/v1/trips/:id/deny.
func (h *TripHandler) DenyTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.service.DenyTrip(c.Request.Context(), tripID, driverID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelTrip handles POST /api/v1/trips/:id/cancel.
func (h *TripHandler) CancelTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	role, _ := middleware.GetUserRole(c)

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	result, err := h.service.CancelTrip(c.Request.Context(), tripID, userID, role == auth.RoleDriver, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ConfirmPickup handles POST /api/v1/trips/:id/pickup.
func (h *TripHandler) ConfirmPickup(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.service.ConfirmPickup(c.Request.Context(), tripID, driverID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ConfirmDropoff handles POST /api/v1/trips/:id/dropoff.
func (h *TripHandler) ConfirmDropoff(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid trip ID")
		return
	}

	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.service.ConfirmDropoff(c.Request.Context(), tripID, driverID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}
