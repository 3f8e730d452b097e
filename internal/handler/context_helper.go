package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/middleware"
	"github.com/waraqaweb/classes-api/internal/models"
)

// claimsFromContext returns the authenticated actor, or nil on routes that
// skip the JWT middleware. Services treat a nil actor as anonymous and
// refuse anything participant-scoped.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	if value, exists := c.Get(middleware.ContextUserKey); exists {
		if claims, ok := value.(*models.JWTClaims); ok {
			return claims
		}
	}
	return nil
}
