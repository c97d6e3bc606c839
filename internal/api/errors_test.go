package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func runErrorHandler(t *testing.T, err error, development bool) (*httptest.ResponseRecorder, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/transcribe/queue", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	NewErrorHandler(zap.New(core), development)(err, c)
	return rec, logs
}

func TestErrorHandlerMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"api error", NewConflictError("busy"), http.StatusConflict, "CONFLICT"},
		{"validation", NewValidationError("filePath is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"echo not found", echo.ErrNotFound, http.StatusNotFound, "ROUTE_NOT_FOUND"},
		{"echo method", echo.ErrMethodNotAllowed, http.StatusNotFound, "ROUTE_NOT_FOUND"},
		{"too large", echo.ErrStatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"unavailable", fmt.Errorf("%w: exec: uv not found", transcription.ErrUnavailable), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"locked", transcription.ErrLocked, http.StatusConflict, "CONFLICT"},
		{"upstream 404", &transcription.UpstreamError{Op: "get job status", Status: 404, Detail: "Job not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"upstream 500", &transcription.UpstreamError{Op: "get queue status", Status: 500, Detail: "boom"}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"plain", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := runErrorHandler(t, tt.err, true)
			assert.Equal(t, tt.status, rec.Code)

			body := decodeError(t, rec.Body.Bytes())
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.status, body.Error.StatusCode)
		})
	}
}

func TestErrorHandlerDetailsOnlyInDevelopment(t *testing.T) {
	err := errors.New("disk on fire")

	rec, _ := runErrorHandler(t, err, true)
	body := decodeError(t, rec.Body.Bytes())
	assert.Equal(t, "An unexpected error occurred", body.Error.Message)
	assert.JSONEq(t, `"disk on fire"`, string(body.Error.Details))

	rec, _ = runErrorHandler(t, err, false)
	body = decodeError(t, rec.Body.Bytes())
	assert.Equal(t, "An unexpected error occurred", body.Error.Message)
	assert.Empty(t, body.Error.Details)
}

func TestErrorHandlerLogsBySeverity(t *testing.T) {
	_, logs := runErrorHandler(t, errors.New("boom"), false)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "INTERNAL_ERROR", entries[0].ContextMap()["code"])
	}

	_, logs = runErrorHandler(t, NewValidationError("x is required"), false)
	entries = logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, "/api/transcribe/queue", entries[0].ContextMap()["path"])
	}
}

func TestErrorHandlerSkipsCommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.String(http.StatusOK, "done")

	NewErrorHandler(nil, true)(errors.New("late"), c)
	assert.Equal(t, "done", rec.Body.String())
}
