package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kinderly/liveclass/pkg/metrics"
)

// Metrics returns middleware that records request count and latency per route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched" // keep label cardinality bounded
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
