// Package apierrors provides a standardized error response for the HTTP
// boundary, grounded on api/internal/errors/errors.go's AppError, trimmed
// to the codes this broker's API surface actually returns.
package apierrors

import (
	"fmt"
	"net/http"
)

// AppError is a structured error with an HTTP status code and a
// machine-readable code, returned as JSON from internal/httpapi handlers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body written for an AppError.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ToResponse converts e into its JSON wire shape.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message}
}

// InvalidRoom is returned when a client requests a reserved room name.
func InvalidRoom(room string) *AppError {
	return &AppError{
		Code:       "INVALID_ROOM",
		Message:    fmt.Sprintf("%q is a reserved name and cannot be used as a room", room),
		StatusCode: http.StatusBadRequest,
	}
}

// NotFound is returned when a requested room or metric does not exist.
func NotFound(what string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", what),
		StatusCode: http.StatusNotFound,
	}
}

// Disabled is returned when a feature-gated endpoint (metrics, api) was hit
// without its flag enabled.
func Disabled(feature string) *AppError {
	return &AppError{
		Code:       "DISABLED",
		Message:    fmt.Sprintf("%s is not enabled on this broker", feature),
		StatusCode: http.StatusNotFound,
	}
}
