// fake_backend.go - In-process stand-in for the Python services
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/labstack/echo/v4"
)

// ReceivedUpload is a multipart upload captured by the fake backend.
type ReceivedUpload struct {
	FileName string
	Content  []byte
	Fields   map[string]string
}

// FakeBackend serves the transcription API, transcribe service and chatbot
// routes from one httptest server.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	healthy  bool
	jobs     map[string]models.TranscriptionJob
	analyzed map[string]json.RawMessage
	uploads  []ReceivedUpload
	chats    []models.ChatRequest
	requests []string
}

// NewFakeBackend starts a fake backend and closes it when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	fb := &FakeBackend{
		healthy:  true,
		jobs:     make(map[string]models.TranscriptionJob),
		analyzed: make(map[string]json.RawMessage),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			fb.mu.Lock()
			fb.requests = append(fb.requests, c.Request().Method+" "+c.Request().URL.Path)
			fb.mu.Unlock()
			return next(c)
		}
	})

	e.GET("/", fb.root)
	e.GET("/health", fb.root)

	e.GET("/queue", fb.queue)
	e.DELETE("/queue", fb.clearQueue)
	e.DELETE("/queue/:id", fb.cancelJob)
	e.GET("/job/:id", fb.job)
	e.GET("/analyzed", fb.analyzedList)
	e.GET("/analyzed/:name", fb.analyzedGet)
	e.DELETE("/analyzed/:name", fb.analyzedDelete)
	e.POST("/upload", fb.upload)
	e.POST("/analyze", fb.analyze)

	e.POST("/chat", fb.chat)
	e.GET("/chatbot/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ready", "active_conversations": 1})
	})
	e.GET("/chatbot/tools", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"tools": []string{"crop", "trim"}})
	})
	e.GET("/chatbot/project", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"name": "demo"})
	})
	e.POST("/chatbot/conversations", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"conversation_id": "conv-1"})
	})
	e.POST("/chatbot/conversations/:id/message/stream", fb.stream)
	e.POST("/chatbot/conversations/:id/*", func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"conversation_id": c.Param("id"),
			"action":          c.Param("*"),
			"echo":            string(body),
		})
	})

	fb.Server = httptest.NewServer(e)
	t.Cleanup(fb.Server.Close)
	return fb
}

// URL returns the backend base URL.
func (fb *FakeBackend) URL() string { return fb.Server.URL }

// SetHealthy toggles the answer of GET / and GET /health.
func (fb *FakeBackend) SetHealthy(ok bool) {
	fb.mu.Lock()
	fb.healthy = ok
	fb.mu.Unlock()
}

// AddJob seeds a job.
func (fb *FakeBackend) AddJob(job models.TranscriptionJob) {
	fb.mu.Lock()
	fb.jobs[job.ID] = job
	fb.mu.Unlock()
}

// AddAnalyzed seeds an analysis document.
func (fb *FakeBackend) AddAnalyzed(name string, doc string) {
	fb.mu.Lock()
	fb.analyzed[name] = json.RawMessage(doc)
	fb.mu.Unlock()
}

// Uploads returns captured uploads.
func (fb *FakeBackend) Uploads() []ReceivedUpload {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]ReceivedUpload(nil), fb.uploads...)
}

// Chats returns captured chat requests.
func (fb *FakeBackend) Chats() []models.ChatRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]models.ChatRequest(nil), fb.chats...)
}

// Requests returns "METHOD /path" for every request served.
func (fb *FakeBackend) Requests() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.requests...)
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func (fb *FakeBackend) root(c echo.Context) error {
	fb.mu.Lock()
	ok := fb.healthy
	fb.mu.Unlock()
	if !ok {
		return detail(c, http.StatusServiceUnavailable, "starting")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "running", "version": "1.0.0"})
}

func (fb *FakeBackend) queue(c echo.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	status := models.QueueStatus{
		QueuedJobs: []models.TranscriptionJob{},
		ActiveJobs: []models.TranscriptionJob{},
	}
	for _, job := range fb.jobs {
		if job.Status == "processing" {
			status.ActiveJobs = append(status.ActiveJobs, job)
		} else {
			status.QueuedJobs = append(status.QueuedJobs, job)
		}
	}
	status.QueueLength = len(status.QueuedJobs)
	status.IsProcessing = len(status.ActiveJobs) > 0
	return c.JSON(http.StatusOK, status)
}

func (fb *FakeBackend) clearQueue(c echo.Context) error {
	fb.mu.Lock()
	n := len(fb.jobs)
	fb.jobs = make(map[string]models.TranscriptionJob)
	fb.mu.Unlock()
	return c.JSON(http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Cleared %d jobs", n)})
}

func (fb *FakeBackend) cancelJob(c echo.Context) error {
	id := c.Param("id")
	fb.mu.Lock()
	_, ok := fb.jobs[id]
	delete(fb.jobs, id)
	fb.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "Job " + id + " cancelled"})
}

func (fb *FakeBackend) job(c echo.Context) error {
	fb.mu.Lock()
	job, ok := fb.jobs[c.Param("id")]
	fb.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (fb *FakeBackend) analyzedList(c echo.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := []models.AnalyzedFile{}
	for name := range fb.analyzed {
		out = append(out, models.AnalyzedFile{FileName: name, AnalyzedAt: time.Now().UTC().Format(time.RFC3339)})
	}
	return c.JSON(http.StatusOK, out)
}

func (fb *FakeBackend) analyzedGet(c echo.Context) error {
	fb.mu.Lock()
	doc, ok := fb.analyzed[c.Param("name")]
	fb.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Analyzed file not found")
	}
	return c.JSONBlob(http.StatusOK, doc)
}

func (fb *FakeBackend) analyzedDelete(c echo.Context) error {
	name := c.Param("name")
	fb.mu.Lock()
	_, ok := fb.analyzed[name]
	delete(fb.analyzed, name)
	fb.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Analyzed file not found")
	}
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "Deleted " + name})
}

func (fb *FakeBackend) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return detail(c, http.StatusInternalServerError, err.Error())
	}
	defer src.Close()
	content, _ := io.ReadAll(src)

	fields := map[string]string{}
	for _, key := range []string{"brief_path", "custom_spell", "silence_threshold_ms"} {
		if v := c.FormValue(key); v != "" {
			fields[key] = v
		}
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.uploads = append(fb.uploads, ReceivedUpload{FileName: fh.Filename, Content: content, Fields: fields})
	jobID := fmt.Sprintf("job-%d", len(fb.uploads))
	fb.jobs[jobID] = models.TranscriptionJob{ID: jobID, Status: "queued", FileName: fh.Filename}

	return c.JSON(http.StatusOK, models.UploadFileResponse{
		JobID:         jobID,
		Message:       "File uploaded and queued for processing",
		QueuePosition: len(fb.jobs),
	})
}

func (fb *FakeBackend) analyze(c echo.Context) error {
	var req models.AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusUnprocessableEntity, "invalid body")
	}
	if strings.Contains(req.VideoPath, "missing") {
		return detail(c, http.StatusNotFound, "Video file not found: "+req.VideoPath)
	}
	return c.JSON(http.StatusOK, models.AnalyzeResponse{
		Success:    true,
		Message:    "Analysis completed successfully",
		OutputFile: req.VideoPath + ".json",
		Result:     json.RawMessage(`{"words":3}`),
	})
}

func (fb *FakeBackend) chat(c echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}
	fb.mu.Lock()
	fb.chats = append(fb.chats, req)
	fb.mu.Unlock()
	if req.Message == "fail" {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "model offline"})
	}
	return c.JSON(http.StatusOK, map[string]string{"reply": "echo: " + req.Message})
}

func (fb *FakeBackend) stream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.WriteHeader(http.StatusOK)
	for _, evt := range []string{`{"type":"start"}`, `{"type":"text","content":"hi"}`, `{"type":"done"}`} {
		fmt.Fprintf(res, "data: %s\n\n", evt)
		res.Flush()
	}
	return nil
}
