// Package httpapi holds the small amount of shared HTTP plumbing the
// front door needs: a uniform JSON envelope and the request-id
// convention every handler and middleware layers onto it.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is both the header name and the gin.Context key used to
// carry a request's correlation id.
const RequestIDKey = "X-Request-ID"

const (
	CodeOK            = "ok"
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeNotFound      = "not_found"
	CodeInternalError = "internal_error"
)

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// GetRequestID reads the request id RequestID middleware stored on c,
// minting one on the spot if absent (e.g. in a handler reached before
// the middleware runs, such as a test).
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "req-" + uuid.New().String()
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func Error(c *gin.Context, httpCode int, code, message string) {
	c.AbortWithStatusJSON(httpCode, ErrorResponse{Code: code, Message: message, RequestID: GetRequestID(c)})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeInternalError, message)
}
