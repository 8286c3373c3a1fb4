package middleware

import (
	"time"

	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogger logs every request with its status and latency. It runs
// inside the otelhttp handler so trace ids are present on the context.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		ctx := c.Request.Context()

		ev := logger.Info(ctx)
		switch {
		case status >= 500:
			ev = logger.Error(ctx)
		case status >= 400:
			ev = logger.Warn(ctx)
		}

		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", duration).
			Int64("duration_ms", duration.Milliseconds()).
			Int("response_size", c.Writer.Size()).
			Str("request_id", requestID).
			Msg("Request completed")

		if len(c.Errors) > 0 {
			logger.Error(ctx).
				Str("errors", c.Errors.String()).
				Str("path", c.Request.URL.Path).
				Str("request_id", requestID).
				Msg("Request error")
		}
	}
}
