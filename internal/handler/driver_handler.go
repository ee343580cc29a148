package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/velora-rides/service-dispatch/internal/application"
	"github.com/velora-rides/service-dispatch/internal/auth"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
	"github.com/velora-rides/service-dispatch/internal/middleware"
	"github.com/velora-rides/service-dispatch/internal/response"
)

// DriverHandler handles HTTP requests for driver presence and availability.
type DriverHandler struct {
	service *application.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(service *application.DriverService) *DriverHandler {
	return &DriverHandler{service: service}
}

// RegisterRoutes registers all driver routes on the given router group.
func (h *DriverHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	drivers := r.Group("/api/v1/drivers")
	drivers.Use(authMW)
	{
		drivers.PUT("/me/location", middleware.RequireRole(auth.RoleDriver), h.UpdateLocation)
		drivers.PUT("/me/availability", middleware.RequireRole(auth.RoleDriver), h.SetAvailability)
		drivers.DELETE("/me", middleware.RequireRole(auth.RoleDriver), h.GoOffline)
		drivers.GET("/nearby", h.NearbyDrivers)
	}
}

// UpdateLocation handles PUT /api/v1/drivers/me/location.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Pointer fields so 0 (equator, prime meridian) passes the required check.
	var body struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	position := geo.Coordinate{Latitude: *body.Latitude, Longitude: *body.Longitude}
	if err := h.service.UpdateLocation(c.Request.Context(), driverID, position); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"driver_id": driverID, "position": position})
}

// SetAvailability handles PUT /api/v1/drivers/me/availability.
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body struct {
		Available *bool `json:"available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.service.SetAvailability(c.Request.Context(), driverID, *body.Available); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"driver_id": driverID, "available": *body.Available})
}

// GoOffline handles DELETE /api/v1/drivers/me.
func (h *DriverHandler) GoOffline(c *gin.Context) {
	driverID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	h.service.GoOffline(c.Request.Context(), driverID)
	response.Success(c, gin.H{"driver_id": driverID, "online": false})
}

// NearbyDrivers handles GET /api/v1/drivers/nearby.
func (h *DriverHandler) NearbyDrivers(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(c, "lat and lng query parameters are required")
		return
	}

	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius", "5000"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	drivers, err := h.service.NearbyDrivers(geo.Coordinate{Latitude: lat, Longitude: lng}, radius, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, drivers)
}
