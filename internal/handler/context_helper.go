package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/e-lglioui/giao-long-api/internal/middleware"
	"github.com/e-lglioui/giao-long-api/internal/models"
)

// currentClaims returns the authenticated user's claims, if any.
func currentClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}
