package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/service"
)

// Metrics records one observation per request, labelled by method, route
// template and status class. Unmatched routes collapse into a single label
// so probes and scanners cannot grow the series set.
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
