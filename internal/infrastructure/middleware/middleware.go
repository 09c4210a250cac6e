package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"twinsong/internal/httpapi"
)

// ContextRequestID is the context key for request ID.
const ContextRequestID = "request_id"

// RequestID uses the X-Request-ID header from the client if provided,
// otherwise generates a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(httpapi.RequestIDKey)
		if requestID == "" {
			requestID = "req-" + uuid.New().String()
		}
		c.Set(httpapi.RequestIDKey, requestID)
		c.Set(ContextRequestID, requestID)
		c.Header(httpapi.RequestIDKey, requestID)
		c.Next()
	}
}

// RequestLogger logs one line per completed request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := httpapi.GetRequestID(c)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := log.Info()
		if status >= 400 && status < 500 {
			logger = log.Warn()
		} else if status >= 500 {
			logger = log.Error()
		}

		logger.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}

// Recovery turns a panic into a 500 instead of tearing down the whole
// server, since a single malformed request must never take a notebook
// session with it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := httpapi.GetRequestID(c)
				log.Error().
					Str("request_id", requestID).
					Interface("error", err).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, httpapi.ErrorResponse{
					Code:      httpapi.CodeInternalError,
					Message:   "internal server error",
					RequestID: requestID,
				})
			}
		}()
		c.Next()
	}
}

// CORS allows any origin, since the browser client is served from
// wherever the operator chooses to host it.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(c *gin.Context) string {
	return httpapi.GetRequestID(c)
}
