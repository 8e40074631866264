package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Every endpoint answers with one of two envelopes:
//
//	{"data": ...}                                  success
//	{"error": {"code", "message", "details"?}}     failure
//
// so the chat frontend can branch on the error code without parsing messages.

// ErrorCode is the machine-readable part of an error response
type ErrorCode string

const (
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"         // opencode call failed
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE" // opencode unreachable
)

// ErrorDetail points at the request field that was rejected
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Error struct {
		Code    ErrorCode     `json:"code"`
		Message string        `json:"message"`
		Details []ErrorDetail `json:"details,omitempty"`
	} `json:"error"`
}

// DataResponse wraps a single object
type DataResponse[T any] struct {
	Data T `json:"data"`
}

// ListResponse wraps a collection. Data is never null.
type ListResponse[T any] struct {
	Data []T `json:"data"`
}

// RespondData writes 200 with a single object
func RespondData[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, DataResponse[T]{Data: data})
}

// RespondList writes 200 with a list, encoding nil as []
func RespondList[T any](c *gin.Context, data []T) {
	if data == nil {
		data = []T{}
	}
	c.JSON(http.StatusOK, ListResponse[T]{Data: data})
}

func respondError(c *gin.Context, status int, code ErrorCode, message string, details []ErrorDetail) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	c.JSON(status, resp)
}

// RespondBadRequest writes 400 for a body or query that cannot be parsed
func RespondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, ErrCodeBadRequest, message, nil)
}

// RespondValidationError writes 400 with per-field details
func RespondValidationError(c *gin.Context, message string, details []ErrorDetail) {
	respondError(c, http.StatusBadRequest, ErrCodeValidation, message, details)
}

// RespondNotFound writes 404
func RespondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, ErrCodeNotFound, message, nil)
}

// RespondInternalError writes 500
func RespondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, ErrCodeInternal, message, nil)
}

// RespondBadGateway writes 502 when opencode answered with an error
func RespondBadGateway(c *gin.Context, message string) {
	respondError(c, http.StatusBadGateway, ErrCodeBadGateway, message, nil)
}

// RespondServiceUnavailable writes 503 when opencode cannot be reached
func RespondServiceUnavailable(c *gin.Context, message string, details []ErrorDetail) {
	respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message, details)
}
