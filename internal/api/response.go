// Package api provides gin helpers for writing uniform API responses.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/warden-project/warden/internal/types"
)

const requestIDKey = "request_id"

// RequestID returns the request id set by the middleware, if any.
func RequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// Success writes a 200 response with the given data.
func Success[T any](c *gin.Context, data T) {
	c.JSON(200, types.NewSuccessResponse(data, RequestID(c)))
}

// SuccessWithStatus writes a response with the given status and data.
func SuccessWithStatus[T any](c *gin.Context, status int, data T) {
	c.JSON(status, types.NewSuccessResponse(data, RequestID(c)))
}

// Error writes an error response; the HTTP status follows the error code.
func Error(c *gin.Context, code types.ErrorCode, message, details string) {
	c.JSON(code.HTTPStatus(), types.NewErrorResponse(code, message, details, RequestID(c)))
}

// BadRequest writes an INVALID_REQUEST error response.
func BadRequest(c *gin.Context, message, details string) {
	Error(c, types.ErrCodeInvalidRequest, message, details)
}

// NotFound writes an ALLOCATION_NOT_FOUND error response.
func NotFound(c *gin.Context, message, details string) {
	Error(c, types.ErrCodeAllocationNotFound, message, details)
}

// Internal writes an INTERNAL_ERROR error response.
func Internal(c *gin.Context, message, details string) {
	Error(c, types.ErrCodeInternalError, message, details)
}
