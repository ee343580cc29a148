package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/velora-rides/service-dispatch/internal/auth"
)

const (
	contextUserID = "auth_user_id"
	contextRole   = "auth_role"
)

// AuthMiddleware verifies the bearer token and stores the caller's identity
// and role on the context. Websocket clients may pass the token as a query
// parameter since browsers cannot set headers on upgrade requests.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "missing bearer token"}})
			return
		}

		claims, err := jwtManager.VerifyAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "invalid token"}})
			return
		}

		c.Set(contextUserID, claims.UserID)
		c.Set(contextRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects callers whose token carries a different role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actual, ok := GetUserRole(c)
		if !ok || actual != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "FORBIDDEN", "message": "insufficient role"}})
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated caller's ID.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(contextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// GetUserRole returns the authenticated caller's role.
func GetUserRole(c *gin.Context) (string, bool) {
	v, ok := c.Get(contextRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
