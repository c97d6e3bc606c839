// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/editsuite/orchestrator/internal/config"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version    string
	cfg        *config.Config
	chatbot    ServiceClient
	transcribe ServiceClient
	runtime    transcription.Supervisor
	archive    ArchiveStatus
}

// NewHealthHandler creates a new health handler. archive may be nil.
func NewHealthHandler(version string, cfg *config.Config, chatbot, transcribe ServiceClient, runtime transcription.Supervisor, archive ArchiveStatus) HealthHandler {
	return &HealthHandlerImpl{
		version:    version,
		cfg:        cfg,
		chatbot:    chatbot,
		transcribe: transcribe,
		runtime:    runtime,
		archive:    archive,
	}
}

type serviceHealth struct {
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
}

type archiveHealth struct {
	Path    string `json:"path"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(isoMillis),
		"version":     h.version,
		"environment": h.cfg.Server.Environment,
	})
}

// HandleHealthDetailed probes every downstream service
func (h *HealthHandlerImpl) HandleHealthDetailed(c echo.Context) error {
	ctx := c.Request().Context()

	probed := pyservice.CheckHealth(ctx, h.chatbot, h.transcribe)
	services := map[string]serviceHealth{
		"chatbot":    {URL: h.chatbot.BaseURL(), Healthy: probed[h.chatbot.Name()]},
		"transcribe": {URL: h.transcribe.BaseURL(), Healthy: probed[h.transcribe.Name()]},
	}
	if h.runtime != nil {
		healthy := h.runtime.Healthy(ctx)
		probed["transcriptionAPI"] = healthy
		services["transcriptionAPI"] = serviceHealth{
			URL:     h.runtime.Status().BaseURL,
			Healthy: healthy,
		}
	}

	status := "ok"
	if !pyservice.AllHealthy(probed) {
		status = "degraded"
	}

	body := map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(isoMillis),
		"version":     h.version,
		"environment": h.cfg.Server.Environment,
		"services":    services,
		"configuration": map[string]interface{}{
			"port":        h.cfg.Server.Port,
			"corsOrigin":  h.cfg.Security.CORSOrigin,
			"apiTimeout":  h.cfg.Security.APITimeoutMs,
			"maxFileSize": h.cfg.Upload.MaxFileSize,
		},
	}
	// archive flush failures are reported but do not degrade the status
	if h.archive != nil {
		report := archiveHealth{Path: h.archive.Path(), Healthy: true}
		if err := h.archive.LastError(); err != nil {
			report.Healthy = false
			report.Error = err.Error()
		}
		body["archive"] = report
	}
	return c.JSON(http.StatusOK, body)
}
