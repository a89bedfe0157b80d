package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/service"
)

// Metrics records per-route request counts and latencies. Scrape and docs
// endpoints are skipped to keep the series cardinality useful.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if path == "/metrics" || strings.HasPrefix(path, "/docs") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
