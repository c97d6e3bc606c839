package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/editsuite/orchestrator/internal/config"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/editsuite/orchestrator/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	e := echo.New()
	cfg := config.Defaults()
	h := NewHealthHandler("1.2.3", cfg, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if assert.NoError(t, h.HandleHealth(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "1.2.3", body["version"])
		assert.Equal(t, "development", body["environment"])

		ts, err := time.Parse(time.RFC3339, body["timestamp"].(string))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
	}
}

type detailedHealth struct {
	Status   string                   `json:"status"`
	Services map[string]serviceHealth `json:"services"`
	Config   map[string]interface{}   `json:"configuration"`
	Archive  *archiveHealth           `json:"archive"`
}

type stubArchiveStatus struct {
	err error
}

func (s stubArchiveStatus) Path() string     { return "/var/lib/orchestrator/archive.duckdb" }
func (s stubArchiveStatus) LastError() error { return s.err }

func TestHandleHealthDetailed(t *testing.T) {
	backend := testutil.NewFakeBackend(t)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	chatbot := pyservice.NewClient("chatbot", backend.URL(), time.Second, nil)
	transcribe := pyservice.NewClient("transcribe", backend.URL(), time.Second, nil)
	deadChatbot := pyservice.NewClient("chatbot", down.URL, time.Second, nil)
	sup := &testutil.FakeSupervisor{HealthOK: true, BaseURL: "http://127.0.0.1:8000"}

	run := func(h HealthHandler) detailedHealth {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/detailed", nil), rec)
		require.NoError(t, h.HandleHealthDetailed(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var body detailedHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	cfg := config.Defaults()

	t.Run("runtime not started is degraded", func(t *testing.T) {
		body := run(NewHealthHandler("1", cfg, chatbot, transcribe, sup, nil))
		assert.Equal(t, "degraded", body.Status)
		assert.True(t, body.Services["chatbot"].Healthy)
		assert.True(t, body.Services["transcribe"].Healthy)
		assert.False(t, body.Services["transcriptionAPI"].Healthy)
		assert.Equal(t, "http://127.0.0.1:8000", body.Services["transcriptionAPI"].URL)
		assert.Equal(t, backend.URL(), body.Services["chatbot"].URL)
		assert.EqualValues(t, cfg.Server.Port, body.Config["port"])
		assert.Equal(t, cfg.Upload.MaxFileSize, body.Config["maxFileSize"])
	})

	require.NoError(t, sup.Start(context.Background()))

	t.Run("everything up", func(t *testing.T) {
		body := run(NewHealthHandler("1", cfg, chatbot, transcribe, sup, nil))
		assert.Equal(t, "ok", body.Status)
		assert.True(t, body.Services["transcriptionAPI"].Healthy)
		assert.Nil(t, body.Archive)
	})

	t.Run("archive flush failure is reported", func(t *testing.T) {
		body := run(NewHealthHandler("1", cfg, chatbot, transcribe, sup, stubArchiveStatus{err: errors.New("disk full")}))
		assert.Equal(t, "ok", body.Status)
		require.NotNil(t, body.Archive)
		assert.False(t, body.Archive.Healthy)
		assert.Equal(t, "disk full", body.Archive.Error)
		assert.Equal(t, "/var/lib/orchestrator/archive.duckdb", body.Archive.Path)

		body = run(NewHealthHandler("1", cfg, chatbot, transcribe, sup, stubArchiveStatus{}))
		require.NotNil(t, body.Archive)
		assert.True(t, body.Archive.Healthy)
	})

	t.Run("chatbot down", func(t *testing.T) {
		body := run(NewHealthHandler("1", cfg, deadChatbot, transcribe, sup, nil))
		assert.Equal(t, "degraded", body.Status)
		assert.False(t, body.Services["chatbot"].Healthy)
		assert.True(t, body.Services["transcribe"].Healthy)
	})

	t.Run("unhealthy answer", func(t *testing.T) {
		backend.SetHealthy(false)
		defer backend.SetHealthy(true)

		body := run(NewHealthHandler("1", cfg, chatbot, transcribe, sup, nil))
		assert.Equal(t, "degraded", body.Status)
		assert.False(t, body.Services["transcribe"].Healthy)
	})
}
