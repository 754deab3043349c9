package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/response"
)

// RequestTimeout bounds the request context. Handlers see the deadline through
// c.Request.Context(); if one runs past it without writing, a 504 is sent.
// WebSocket upgrades are unaffected once hijacked because streams use their own context.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}

		endpoint := c.FullPath()
		metrics.RecordRequestTimeout(c.Request.Method, endpoint)
		logger.Warn("Request timed out",
			zap.Duration("timeout", timeout),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", endpoint))

		if !c.Writer.Written() {
			response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timeout")
			c.Abort()
		}
	}
}
