package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/observability"
)

// securityHeaders sets the browser hardening headers on every /api response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		h.Set("Permissions-Policy", "geolocation=(), microphone=()")
		c.Next()
	}
}

// cors allows any origin and answers preflight requests directly.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger records latency and status per route.
func requestLogger(logger logrus.FieldLogger, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.RecordHTTP(route, status, elapsed)

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request served")
		}
	}
}
