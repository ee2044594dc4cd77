package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/rs/zerolog"
)

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetString("requestID")
		reqLogger := logger.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logutil.WithContext(c.Request.Context(), reqLogger))

		c.Next()

		reqLogger.Info().
			Str("method", method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		latency := time.Since(start).Seconds()
		status := c.Writer.Status()
		function := functionLabel(c, status)
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status), function).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, function).Observe(latency)
	}
}

// functionLabel names the AJAX function of the request. Unknown names answer
// 404 and are left out to keep label cardinality bounded.
func functionLabel(c *gin.Context, status int) string {
	if status == http.StatusNotFound {
		return ""
	}
	return strings.Trim(c.Param("function"), "/")
}

func authMiddleware(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	want := []byte(token)
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(presentedToken(c)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// presentedToken reads a bearer token, falling back to X-API-Key.
func presentedToken(c *gin.Context) string {
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		if bearer = strings.TrimSpace(bearer); bearer != "" {
			return bearer
		}
	}
	return c.GetHeader("X-API-Key")
}
