// handlers_transcribe.go - Transcription API and runtime handlers
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/editsuite/orchestrator/internal/storage"
	"github.com/editsuite/orchestrator/internal/transcription"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const defaultSilenceThresholdMs = 1000

// TranscribeHandlerImpl implements the TranscribeHandler interface
type TranscribeHandlerImpl struct {
	svc     TranscriptionService
	store   storage.Store
	archive LogArchive
	logger  *zap.Logger
}

// NewTranscribeHandler creates a new transcription handler
func NewTranscribeHandler(svc TranscriptionService, store storage.Store, archive LogArchive, logger *zap.Logger) TranscribeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscribeHandlerImpl{
		svc:     svc,
		store:   store,
		archive: archive,
		logger:  logger.Named("transcribe"),
	}
}

var transcribeRules = []Rule{
	{Field: "filePath", Required: true, Type: TypeString, MinLength: 1},
	{Field: "outputPath", Type: TypeString},
	{Field: "briefPath", Type: TypeString},
	{Field: "customSpell", Type: TypeArray},
	{Field: "silenceThresholdMs", Type: TypeNumber, Min: Bound(0)},
}

type transcribeRequest struct {
	FilePath           string            `json:"filePath"`
	OutputPath         string            `json:"outputPath"`
	BriefPath          string            `json:"briefPath"`
	CustomSpell        []json.RawMessage `json:"customSpell"`
	SilenceThresholdMs *int              `json:"silenceThresholdMs"`
}

// HandleTranscribe analyzes a video already on disk
func (h *TranscribeHandlerImpl) HandleTranscribe(c echo.Context) error {
	var req transcribeRequest
	if err := bindValidated(c, transcribeRules, &req); err != nil {
		return err
	}

	analyze := models.AnalyzeRequest{
		VideoPath:          req.FilePath,
		OutputPath:         req.OutputPath,
		BriefPath:          req.BriefPath,
		CustomSpell:        req.CustomSpell,
		SilenceThresholdMs: defaultSilenceThresholdMs,
	}
	if req.SilenceThresholdMs != nil {
		analyze.SilenceThresholdMs = *req.SilenceThresholdMs
	}

	resp, err := h.svc.Analyze(c.Request().Context(), analyze)
	if err != nil {
		var upstream *transcription.UpstreamError
		if errors.As(err, &upstream) {
			apiErr := NewTranscriptionError(upstream.Detail)
			if upstream.Status >= 400 && upstream.Status < 500 {
				apiErr.Status = upstream.Status
			}
			return apiErr
		}
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"transcript": resp.Result,
		"outputFile": resp.OutputFile,
		"message":    resp.Message,
	})
}

// HandleRuntimeHealth reports whether the transcription API answers
func (h *TranscribeHandlerImpl) HandleRuntimeHealth(c echo.Context) error {
	rt := h.svc.Runtime()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"healthy": rt.Healthy(c.Request().Context()),
		"status":  rt.Status(),
	})
}

// HandleRuntimeStart launches the transcription API and waits for readiness
func (h *TranscribeHandlerImpl) HandleRuntimeStart(c echo.Context) error {
	rt := h.svc.Runtime()
	if err := rt.Start(c.Request().Context()); err != nil {
		if errors.Is(err, transcription.ErrLocked) {
			return NewConflictError(err.Error())
		}
		apiErr := NewServiceUnavailableError("Failed to start transcription API")
		apiErr.Details = err.Error()
		return apiErr
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Transcription API started",
		"status":  rt.Status(),
	})
}

// HandleRuntimeStop terminates the transcription API process
func (h *TranscribeHandlerImpl) HandleRuntimeStop(c echo.Context) error {
	rt := h.svc.Runtime()
	rt.Stop()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Transcription API stopped",
		"status":  rt.Status(),
	})
}

// HandleQueueStatus returns the job queue
func (h *TranscribeHandlerImpl) HandleQueueStatus(c echo.Context) error {
	status, err := h.svc.QueueStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return respondData(c, status)
}

// HandleClearQueue removes every queued job
func (h *TranscribeHandlerImpl) HandleClearQueue(c echo.Context) error {
	msg, err := h.svc.ClearQueue(c.Request().Context())
	if err != nil {
		return err
	}
	return respondData(c, msg)
}

// HandleCancelJob removes one job from the queue
func (h *TranscribeHandlerImpl) HandleCancelJob(c echo.Context) error {
	jobID := c.Param("jobId")
	if jobID == "" {
		return NewValidationError("jobId is required")
	}
	msg, err := h.svc.CancelJob(c.Request().Context(), jobID)
	if err != nil {
		return err
	}
	return respondData(c, msg)
}

// HandleJobStatus returns one job
func (h *TranscribeHandlerImpl) HandleJobStatus(c echo.Context) error {
	jobID := c.Param("jobId")
	if jobID == "" {
		return NewValidationError("jobId is required")
	}
	job, err := h.svc.JobStatus(c.Request().Context(), jobID)
	if err != nil {
		return err
	}
	return respondData(c, job)
}

// HandleAnalyzedFiles lists finished analyses
func (h *TranscribeHandlerImpl) HandleAnalyzedFiles(c echo.Context) error {
	files, err := h.svc.AnalyzedFiles(c.Request().Context())
	if err != nil {
		return err
	}
	return respondData(c, files)
}

// HandleAnalyzedFile returns one analysis document
func (h *TranscribeHandlerImpl) HandleAnalyzedFile(c echo.Context) error {
	name, err := analyzedFileName(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.AnalyzedFile(c.Request().Context(), name)
	if err != nil {
		return err
	}
	return respondData(c, doc)
}

// HandleDeleteAnalyzedFile removes one analysis document
func (h *TranscribeHandlerImpl) HandleDeleteAnalyzedFile(c echo.Context) error {
	name, err := analyzedFileName(c)
	if err != nil {
		return err
	}
	msg, err := h.svc.DeleteAnalyzedFile(c.Request().Context(), name)
	if err != nil {
		return err
	}
	return respondData(c, msg)
}

func analyzedFileName(c echo.Context) (string, error) {
	name := c.Param("fileName")
	if name == "" {
		return "", NewValidationError("fileName is required")
	}
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", NewBadRequestError("invalid file name", nil)
	}
	return name, nil
}

// HandleUpload stages a multipart upload on disk and forwards it
func (h *TranscribeHandlerImpl) HandleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewValidationError("file is required")
	}

	opts, err := parseUploadOptions(c)
	if err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return NewBadRequestError("failed to read uploaded file", err)
	}
	info, err := h.store.Save(fh.Filename, fh.Header.Get(echo.HeaderContentType), src)
	src.Close()
	if err != nil {
		return NewInternalError("failed to stage upload", err)
	}
	defer func() {
		if err := h.store.Delete(info.ID); err != nil {
			h.logger.Warn("failed to remove staged upload", zap.String("id", info.ID), zap.Error(err))
		}
	}()

	staged, _, err := h.store.Open(info.ID)
	if err != nil {
		return NewInternalError("failed to open staged upload", err)
	}
	defer staged.Close()

	h.logger.Info("Forwarding upload",
		zap.String("file", info.Name),
		zap.Int64("size", info.Size))

	resp, err := h.svc.Upload(c.Request().Context(), transcription.UploadRequest{
		FileName: info.Name,
		Size:     info.Size,
		Body:     staged,
		Options:  opts,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    resp,
	})
}

func parseUploadOptions(c echo.Context) (models.UploadOptions, error) {
	var opts models.UploadOptions
	opts.BriefPath = strings.TrimSpace(c.FormValue("brief_path"))

	if raw := strings.TrimSpace(c.FormValue("custom_spell")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.CustomSpell); err != nil {
			return opts, NewValidationError("custom_spell must be a JSON array")
		}
	}

	if raw := strings.TrimSpace(c.FormValue("silence_threshold_ms")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, NewValidationError("silence_threshold_ms must be a non-negative integer")
		}
		opts.SilenceThresholdMs = &n
	}
	return opts, nil
}

// HandleRecentUploads lists archived upload submissions
func (h *TranscribeHandlerImpl) HandleRecentUploads(c echo.Context) error {
	if h.archive == nil {
		return NewServiceUnavailableError("archive is disabled")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return NewValidationError("limit must be between 1 and 500")
		}
		limit = n
	}
	uploads, err := h.archive.RecentUploads(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read upload history", err)
	}
	return respondData(c, uploads)
}

// HandleStagedUploads lists uploads still staged on disk while they are
// forwarded to the transcription API
func (h *TranscribeHandlerImpl) HandleStagedUploads(c echo.Context) error {
	files, err := h.store.List(0)
	if err != nil {
		return NewInternalError("failed to list staged uploads", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return respondData(c, files)
}

func respondData(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
