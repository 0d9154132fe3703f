package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docinsight/internal/logger"
)

const requestIDContextKey = "request_id"

// RequestLogger tags each request with an id and logs it once it completes.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// RequestIDFromContext retrieves the id assigned by RequestLogger.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(requestIDContextKey)
}

// rateLimit rejects clients over the limiter's budget. Limiter failures let
// the request through.
func (h *Handler) rateLimit(respond func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		allowed, err := h.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			h.requestLog(c).Warn().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			respond(c, errRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLog(c *gin.Context) *logger.Logger {
	if id := RequestIDFromContext(c); id != "" {
		return h.log.WithRequestID(id)
	}
	return h.log
}
