package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velora-rides/service-dispatch/internal/domain"
)

// Success writes a 200 with the payload.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Created writes a 201 with the payload.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"data": data})
}

// Paginated writes a 200 with items and paging metadata.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// BadRequest writes a 400 with the message.
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": domain.CodeValidation, "message": msg}})
}

// Unauthorized writes a 401.
func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": msg}})
}

// Error maps a domain error to its HTTP status. Unknown errors become 500s
// without leaking internals.
func Error(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": "internal server error"}})
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeConflict,
		domain.CodeInvalidTransition,
		domain.CodeAlreadyMatched,
		domain.CodeNotCurrentOffer,
		domain.CodeAlreadyInTrip,
		domain.CodeDriverUnavailable:
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{"error": gin.H{"code": de.Code, "message": de.Message}})
}
