// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int         `json:"statusCode"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errorEnvelope is the body of every error response.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// Error constructors for consistent error handling

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 error listing every failed rule
func NewValidationError(messages ...string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: "Validation failed",
		Details: map[string]interface{}{"errors": messages},
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewRouteNotFoundError creates the 404 returned for unmatched routes
func NewRouteNotFoundError(method, path string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "ROUTE_NOT_FOUND",
		Message: fmt.Sprintf("Route %s %s not found", method, path),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewUpstreamError creates a 502 for a failed Python service call
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: message,
	}
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewChatbotError creates the 502 returned when the chatbot call fails
func NewChatbotError(detail string) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Code:    "CHATBOT_ERROR",
		Message: "Chatbot service failed",
		Details: detail,
	}
}

// NewTranscriptionError creates the 502 returned when analysis fails
func NewTranscriptionError(detail string) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Code:    "TRANSCRIPTION_ERROR",
		Message: "Transcription service failed",
		Details: detail,
	}
}

// NewErrorHandler returns the echo error handler. Details are only rendered
// in development.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(logger, cfg.IsDevelopment())
func NewErrorHandler(logger *zap.Logger, development bool) echo.HTTPErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err, c)

		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", apiErr.Status),
			zap.String("code", apiErr.Code),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		}
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error(apiErr.Message, append(fields, zap.Error(err))...)
		} else {
			logger.Warn(apiErr.Message, fields...)
		}

		body := *apiErr
		if !development {
			body.Details = nil
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, errorEnvelope{Success: false, Error: &body})
	}
}

func toAPIError(err error, c echo.Context) *APIError {
	var (
		apiErr   *APIError
		httpErr  *echo.HTTPError
		upstream *transcription.UpstreamError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &httpErr):
		switch httpErr.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return NewRouteNotFoundError(c.Request().Method, c.Request().URL.RequestURI())
		case http.StatusRequestEntityTooLarge:
			return &APIError{Status: httpErr.Code, Code: "PAYLOAD_TOO_LARGE", Message: "Request body exceeds the upload size limit"}
		}
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	case errors.Is(err, transcription.ErrUnavailable):
		e := NewServiceUnavailableError(transcription.ErrUnavailable.Error())
		if err != transcription.ErrUnavailable {
			e.Details = err.Error()
		}
		return e
	case errors.Is(err, transcription.ErrLocked):
		return NewConflictError(err.Error())
	case errors.As(err, &upstream):
		if upstream.Status == http.StatusNotFound {
			return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
		}
		return NewUpstreamError(err.Error())
	default:
		return NewInternalError("An unexpected error occurred", err)
	}
}
