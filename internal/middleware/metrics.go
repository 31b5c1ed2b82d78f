package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/service"
)

// Metrics records per-request latency and status. Requests that match no
// route are collapsed into one label so probing random paths cannot blow
// up metric cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
