package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/authz"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// Authorize gates a route on the capability table. Ownership checks stay in
// the services; this only answers the role-level question.
func Authorize(resource authz.Resource, action authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !authz.Can(claims.Role, resource, action) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
