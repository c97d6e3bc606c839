package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the transcription API cannot be started or
// does not answer its health check.
var ErrUnavailable = errors.New("Transcription API is not responding. Please check if the Python backend is properly installed.") //nolint:stylecheck

// Supervisor controls the transcription API process.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop()
	Healthy(ctx context.Context) bool
	Status() models.RuntimeStatus
}

// UploadRecorder persists successful upload submissions.
type UploadRecorder interface {
	RecordUpload(ctx context.Context, rec models.UploadRecord) error
}

// UpstreamError reports a failed call to a Python service.
type UpstreamError struct {
	Op     string
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("failed to %s: %s", e.Op, e.Detail)
}

// UploadRequest is a media file to queue for transcription.
type UploadRequest struct {
	FileName string
	Size     int64
	Body     io.Reader
	Options  models.UploadOptions
}

// Service exposes the transcription API and the transcribe service's
// path-based analysis.
type Service struct {
	runtime       Supervisor
	api           *pyservice.Client
	transcribe    *pyservice.Client
	recorder      UploadRecorder
	uploadTimeout time.Duration
	logger        *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithUploadRecorder records every successful upload.
func WithUploadRecorder(rec UploadRecorder) ServiceOption {
	return func(s *Service) { s.recorder = rec }
}

// WithUploadTimeout bounds multipart forwarding.
func WithUploadTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.uploadTimeout = d
		}
	}
}

// NewService wires a Service. api targets the transcription API managed by
// runtime; transcribe targets the standalone transcribe service.
func NewService(runtime Supervisor, api, transcribe *pyservice.Client, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		runtime:       runtime,
		api:           api,
		transcribe:    transcribe,
		uploadTimeout: 60 * time.Second,
		logger:        logger.Named("transcription"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runtime returns the process supervisor.
func (s *Service) Runtime() Supervisor { return s.runtime }

// EnsureReady starts the API if needed and confirms it answers.
func (s *Service) EnsureReady(ctx context.Context) error {
	if !s.runtime.Status().IsReady {
		s.logger.Info("API not ready, starting...")
		if err := s.runtime.Start(ctx); err != nil {
			s.logger.Warn("Transcription API start failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if !s.runtime.Healthy(ctx) {
		return ErrUnavailable
	}
	return nil
}

// QueueStatus returns the current job queue.
func (s *Service) QueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	var out models.QueueStatus
	if err := s.call(ctx, "get queue status", http.MethodGet, "/queue", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobStatus returns one job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*models.TranscriptionJob, error) {
	var out models.TranscriptionJob
	if err := s.call(ctx, "get job status", http.MethodGet, "/job/"+url.PathEscape(jobID), &out); err != nil {
		s.logger.Error("Failed to get job status", zap.String("job_id", jobID), zap.Error(err))
		return nil, err
	}
	return &out, nil
}

// CancelJob removes a job from the queue.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := s.call(ctx, "cancel job", http.MethodDelete, "/queue/"+url.PathEscape(jobID), &out); err != nil {
		s.logger.Error("Failed to cancel job", zap.String("job_id", jobID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("Job cancelled successfully", zap.String("job_id", jobID))
	return &out, nil
}

// ClearQueue removes every queued job.
func (s *Service) ClearQueue(ctx context.Context) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := s.call(ctx, "clear queue", http.MethodDelete, "/queue", &out); err != nil {
		return nil, err
	}
	s.logger.Info("Queue cleared successfully")
	return &out, nil
}

// AnalyzedFiles lists finished analyses.
func (s *Service) AnalyzedFiles(ctx context.Context) ([]models.AnalyzedFile, error) {
	out := []models.AnalyzedFile{}
	if err := s.call(ctx, "get analyzed files", http.MethodGet, "/analyzed", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzedFile returns the raw analysis document for fileName.
func (s *Service) AnalyzedFile(ctx context.Context, fileName string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := s.call(ctx, "get analyzed file", http.MethodGet, "/analyzed/"+url.PathEscape(fileName), &out); err != nil {
		s.logger.Error("Failed to get analyzed file", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// DeleteAnalyzedFile removes an analysis document.
func (s *Service) DeleteAnalyzedFile(ctx context.Context, fileName string) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := s.call(ctx, "delete analyzed file", http.MethodDelete, "/analyzed/"+url.PathEscape(fileName), &out); err != nil {
		s.logger.Error("Failed to delete analyzed file", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}
	s.logger.Info("Analyzed file deleted successfully", zap.String("file", fileName))
	return &out, nil
}

func (s *Service) call(ctx context.Context, op, method, path string, out interface{}) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}

	var resp pyservice.Response
	switch method {
	case http.MethodDelete:
		resp = s.api.Delete(ctx, path)
	default:
		resp = s.api.Get(ctx, path, nil)
	}
	if !resp.Success {
		return &UpstreamError{Op: op, Status: resp.Status, Detail: resp.Error}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return &UpstreamError{Op: op, Status: resp.Status, Detail: "invalid response: " + err.Error()}
	}
	return nil
}

// Upload streams a media file to the transcription API as multipart form data.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.UploadFileResponse, error) {
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, req))
	}()

	resp, err := s.api.Forward(ctx, http.MethodPost, "/upload", pr, form.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		s.logger.Error("Failed to upload file", zap.String("file", req.FileName), zap.Error(err))
		return nil, &UpstreamError{Op: "upload file", Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: "upload file", Status: resp.StatusCode, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := pyservice.UpstreamMessage(body)
		if detail == "" {
			detail = fmt.Sprintf("request failed with status code %d", resp.StatusCode)
		}
		s.logger.Error("Failed to upload file", zap.String("file", req.FileName), zap.String("detail", detail))
		return nil, &UpstreamError{Op: "upload file", Status: resp.StatusCode, Detail: detail}
	}

	var out models.UploadFileResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{Op: "upload file", Status: resp.StatusCode, Detail: "invalid response: " + err.Error()}
	}

	s.logger.Info("File uploaded successfully",
		zap.String("file", req.FileName),
		zap.String("job_id", out.JobID),
		zap.String("message", out.Message))

	if s.recorder != nil {
		rec := models.UploadRecord{
			JobID:         out.JobID,
			FileName:      req.FileName,
			Size:          req.Size,
			QueuePosition: out.QueuePosition,
			SubmittedAt:   time.Now().UTC(),
		}
		if err := s.recorder.RecordUpload(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warn("failed to archive upload", zap.String("job_id", out.JobID), zap.Error(err))
		}
	}
	return &out, nil
}

func writeUploadForm(form *multipart.Writer, req UploadRequest) error {
	part, err := form.CreateFormFile("file", req.FileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return err
	}

	opts := req.Options
	if opts.BriefPath != "" {
		if err := form.WriteField("brief_path", opts.BriefPath); err != nil {
			return err
		}
	}
	if opts.CustomSpell != nil {
		raw, err := json.Marshal(opts.CustomSpell)
		if err != nil {
			return err
		}
		if err := form.WriteField("custom_spell", string(raw)); err != nil {
			return err
		}
	}
	if opts.SilenceThresholdMs != nil {
		if err := form.WriteField("silence_threshold_ms", strconv.Itoa(*opts.SilenceThresholdMs)); err != nil {
			return err
		}
	}
	return form.Close()
}

// Analyze asks the transcribe service to analyze a video already on disk.
func (s *Service) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	s.logger.Info("Transcription request received", zap.String("filePath", req.VideoPath))

	resp := s.transcribe.Post(ctx, "/analyze", req)
	if !resp.Success {
		s.logger.Error("Transcription failed", zap.String("filePath", req.VideoPath), zap.String("error", resp.Error))
		return nil, &UpstreamError{Op: "analyze video", Status: resp.Status, Detail: resp.Error}
	}

	var out models.AnalyzeResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, &UpstreamError{Op: "analyze video", Status: resp.Status, Detail: "invalid response: " + err.Error()}
	}
	if !out.Success && out.Error != "" {
		return nil, &UpstreamError{Op: "analyze video", Status: resp.Status, Detail: out.Error}
	}

	s.logger.Info("Transcription completed successfully", zap.String("filePath", req.VideoPath))
	return &out, nil
}
