// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/editsuite/orchestrator/internal/models"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleHealthDetailed(c echo.Context) error
}

// TranscribeHandler handles transcription routes
type TranscribeHandler interface {
	HandleTranscribe(c echo.Context) error
	HandleRuntimeHealth(c echo.Context) error
	HandleRuntimeStart(c echo.Context) error
	HandleRuntimeStop(c echo.Context) error
	HandleQueueStatus(c echo.Context) error
	HandleClearQueue(c echo.Context) error
	HandleCancelJob(c echo.Context) error
	HandleJobStatus(c echo.Context) error
	HandleAnalyzedFiles(c echo.Context) error
	HandleAnalyzedFile(c echo.Context) error
	HandleDeleteAnalyzedFile(c echo.Context) error
	HandleUpload(c echo.Context) error
	HandleRecentUploads(c echo.Context) error
	HandleStagedUploads(c echo.Context) error
}

// ChatbotHandler handles chatbot routes
type ChatbotHandler interface {
	HandleChat(c echo.Context) error
	HandleStatus(c echo.Context) error
	HandleTools(c echo.Context) error
	HandleProject(c echo.Context) error
	HandleCreateConversation(c echo.Context) error
	HandleConversationAction(c echo.Context) error
	HandleConversationStream(c echo.Context) error
}

// LogHandler handles log stream routes
type LogHandler interface {
	HandleLogs(c echo.Context) error
	HandleArchivedLogs(c echo.Context) error
	HandleLogSocket(c echo.Context) error
}

// TranscriptionService is what the transcription handlers need from
// transcription.Service. This allows mocking in tests.
type TranscriptionService interface {
	Runtime() transcription.Supervisor
	QueueStatus(ctx context.Context) (*models.QueueStatus, error)
	JobStatus(ctx context.Context, jobID string) (*models.TranscriptionJob, error)
	CancelJob(ctx context.Context, jobID string) (*models.MessageResponse, error)
	ClearQueue(ctx context.Context) (*models.MessageResponse, error)
	AnalyzedFiles(ctx context.Context) ([]models.AnalyzedFile, error)
	AnalyzedFile(ctx context.Context, fileName string) (json.RawMessage, error)
	DeleteAnalyzedFile(ctx context.Context, fileName string) (*models.MessageResponse, error)
	Upload(ctx context.Context, req transcription.UploadRequest) (*models.UploadFileResponse, error)
	Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error)
}

// ServiceClient is a Python service client.
type ServiceClient interface {
	Name() string
	BaseURL() string
	Get(ctx context.Context, path string, query url.Values) pyservice.Response
	Post(ctx context.Context, path string, body interface{}) pyservice.Response
	Forward(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error)
}

// LogArchive serves archived log events and uploads.
type LogArchive interface {
	RecentLogs(ctx context.Context, level string, limit int) ([]logging.LogEvent, error)
	RecentUploads(ctx context.Context, limit int) ([]models.UploadRecord, error)
}

// ArchiveStatus reports where the archive lives and whether its last flush
// failed.
type ArchiveStatus interface {
	Path() string
	LastError() error
}

var (
	_ TranscriptionService = (*transcription.Service)(nil)
	_ ServiceClient        = (*pyservice.Client)(nil)
)
