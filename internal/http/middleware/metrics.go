package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/observability"
)

// Metrics feeds the observability HTTP collectors. Unmatched requests are
// labelled with their raw path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		observability.HTTPInFlight.Inc()
		start := time.Now()
		defer func() {
			observability.HTTPInFlight.Dec()
			route := c.FullPath()
			if route == "" {
				route = c.Request.URL.Path
			}
			observability.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), c.Writer.Size(), time.Since(start))
		}()
		c.Next()
	}
}
