// Package types defines the shared request/response envelope used by the
// HTTP API layer.
package types

import (
	"net/http"
	"time"
)

// ErrorCode identifies a category of API error.
type ErrorCode string

const (
	ErrCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrCodeSafetyRejected      ErrorCode = "SAFETY_REJECTED"
	ErrCodeAllocationNotFound  ErrorCode = "ALLOCATION_NOT_FOUND"
	ErrCodeWorkloadNotFound    ErrorCode = "WORKLOAD_NOT_FOUND"
	ErrCodeEmergencyActive     ErrorCode = "EMERGENCY_ACTIVE"
	ErrCodeHardwareUnavailable ErrorCode = "HARDWARE_UNAVAILABLE"
	ErrCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus maps an error code to its HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidRequest, ErrCodeSafetyRejected:
		return http.StatusBadRequest
	case ErrCodeAllocationNotFound, ErrCodeWorkloadNotFound:
		return http.StatusNotFound
	case ErrCodeEmergencyActive:
		return http.StatusConflict
	case ErrCodeHardwareUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorInfo carries machine-readable error details in a response.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ResponseMeta carries per-request metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApiResponse is the uniform envelope for all API responses.
type ApiResponse[T any] struct {
	Success bool         `json:"success"`
	Data    T            `json:"data,omitempty"`
	Error   *ErrorInfo   `json:"error,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

// NewSuccessResponse builds a success envelope around data.
func NewSuccessResponse[T any](data T, requestID string) ApiResponse[T] {
	return ApiResponse[T]{
		Success: true,
		Data:    data,
		Meta: ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	}
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(code ErrorCode, message, details, requestID string) ApiResponse[any] {
	return ApiResponse[any]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	}
}
