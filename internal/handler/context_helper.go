package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/middleware"
	"github.com/noah-isme/formatio-api/internal/models"
)

// claimsFromContext pulls the authenticated identity set by the JWT
// middleware. Nil means the route ran without authentication.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// pageParams reads the shared page/limit query parameters. Invalid values
// fall back to the defaults; services clamp the upper bound.
func pageParams(c *gin.Context) (page, size int) {
	page, size = 1, 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		size = v
	}
	return page, size
}
