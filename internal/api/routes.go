// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"

	"github.com/editsuite/orchestrator/internal/config"
	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/editsuite/orchestrator/internal/storage"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Config        *config.Config
	Version       string
	Logger        *zap.Logger
	Hub           *logging.StreamHub
	Store         storage.Store
	Transcription TranscriptionService
	Chatbot       ServiceClient
	Transcribe    ServiceClient
	// Archive is optional; leave it nil (not a typed nil) when disabled.
	Archive LogArchive
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Transcribe TranscribeHandler
	Chatbot    ChatbotHandler
	Logs       LogHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	archiveStatus, _ := deps.Archive.(ArchiveStatus)
	return &Handlers{
		Health:     NewHealthHandler(deps.Version, deps.Config, deps.Chatbot, deps.Transcribe, deps.Transcription.Runtime(), archiveStatus),
		Transcribe: NewTranscribeHandler(deps.Transcription, deps.Store, deps.Archive, deps.Logger),
		Chatbot:    NewChatbotHandler(deps.Chatbot, deps.Logger),
		Logs:       NewLogHandler(deps.Hub, deps.Archive, deps.Config.Security.CORSOrigin, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)
	e.GET("/health/detailed", handlers.Health.HandleHealthDetailed)

	// Transcription routes
	transcribeGroup := e.Group("/api/transcribe")
	transcribeGroup.POST("", handlers.Transcribe.HandleTranscribe)
	transcribeGroup.GET("/health", handlers.Transcribe.HandleRuntimeHealth)
	transcribeGroup.POST("/start", handlers.Transcribe.HandleRuntimeStart)
	transcribeGroup.POST("/stop", handlers.Transcribe.HandleRuntimeStop)
	transcribeGroup.GET("/queue", handlers.Transcribe.HandleQueueStatus)
	transcribeGroup.DELETE("/queue", handlers.Transcribe.HandleClearQueue)
	transcribeGroup.DELETE("/queue/:jobId", handlers.Transcribe.HandleCancelJob)
	transcribeGroup.GET("/job/:jobId", handlers.Transcribe.HandleJobStatus)
	transcribeGroup.GET("/analyzed", handlers.Transcribe.HandleAnalyzedFiles)
	transcribeGroup.GET("/analyzed/:fileName", handlers.Transcribe.HandleAnalyzedFile)
	transcribeGroup.DELETE("/analyzed/:fileName", handlers.Transcribe.HandleDeleteAnalyzedFile)
	transcribeGroup.POST("/upload", handlers.Transcribe.HandleUpload)
	transcribeGroup.GET("/uploads", handlers.Transcribe.HandleRecentUploads)
	transcribeGroup.GET("/uploads/staged", handlers.Transcribe.HandleStagedUploads)

	// Chatbot routes
	chatGroup := e.Group("/api/chatbot")
	chatGroup.POST("", handlers.Chatbot.HandleChat)
	chatGroup.GET("/status", handlers.Chatbot.HandleStatus)
	chatGroup.GET("/tools", handlers.Chatbot.HandleTools)
	chatGroup.GET("/project", handlers.Chatbot.HandleProject)
	chatGroup.POST("/conversations", handlers.Chatbot.HandleCreateConversation)
	chatGroup.POST("/conversations/:id/message", handlers.Chatbot.HandleConversationAction)
	chatGroup.POST("/conversations/:id/message/stream", handlers.Chatbot.HandleConversationStream)
	chatGroup.POST("/conversations/:id/clear", handlers.Chatbot.HandleConversationAction)
	chatGroup.POST("/conversations/:id/restart", handlers.Chatbot.HandleConversationAction)
	chatGroup.POST("/conversations/:id/tools/toggle", handlers.Chatbot.HandleConversationAction)

	// Log stream routes
	e.GET("/api/logs", handlers.Logs.HandleLogs)
	e.GET("/api/logs/archive", handlers.Logs.HandleArchivedLogs)
	e.GET("/ws/logs", handlers.Logs.HandleLogSocket)
}

// Routes lists registered routes as "METHOD path", for the startup banner.
func Routes(e *echo.Echo) []string {
	var out []string
	for _, r := range e.Routes() {
		if r.Method == echo.RouteNotFound {
			continue
		}
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.Config, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Use custom error handler
	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.IsDevelopment())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered",
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))

	e.Use(middleware.Secure())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.Security.CORSOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(config.EchoBodyLimit(cfg.MaxFileSizeBytes())))

	requestLog := logger.Named("http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		// log endpoints would otherwise feed their own stream
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || path == "/ws/logs" || strings.HasPrefix(path, "/api/logs")
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			requestLog.Info("request", fields...)
			return nil
		},
	}))
}
