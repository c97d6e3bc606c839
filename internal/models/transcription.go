// Package models contains DTOs mirrored from the Python services.
package models

import "encoding/json"

// TranscriptionJob is one job tracked by the transcription API queue.
type TranscriptionJob struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	FileName  string  `json:"file_name"`
	Progress  float64 `json:"progress"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// QueueStatus is the transcription queue snapshot.
type QueueStatus struct {
	QueuedJobs   []TranscriptionJob `json:"queued_jobs"`
	ActiveJobs   []TranscriptionJob `json:"active_jobs"`
	QueueLength  int                `json:"queue_length"`
	IsProcessing bool               `json:"is_processing"`
}

// AnalyzedFile summarizes a finished transcript analysis.
type AnalyzedFile struct {
	FileName       string   `json:"file_name"`
	OriginalVideo  string   `json:"original_video"`
	AnalyzedAt     string   `json:"analyzed_at"`
	FileSize       int64    `json:"file_size"`
	Speakers       []string `json:"speakers"`
	DurationFrames int64    `json:"duration_frames"`
	FPS            float64  `json:"fps"`
	WordCount      int      `json:"word_count"`
	SilenceCount   int      `json:"silence_count"`
}

// UploadOptions are the optional transcription settings sent with an upload.
type UploadOptions struct {
	BriefPath          string            `json:"brief_path,omitempty"`
	CustomSpell        []json.RawMessage `json:"custom_spell,omitempty"`
	SilenceThresholdMs *int              `json:"silence_threshold_ms,omitempty"`
}

// UploadFileResponse is returned by the transcription API after queueing an upload.
type UploadFileResponse struct {
	JobID         string `json:"job_id"`
	Message       string `json:"message"`
	QueuePosition int    `json:"queue_position"`
}

// MessageResponse is the generic `{"message": ...}` reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// AnalyzeRequest asks the transcribe service to analyze a video on disk.
type AnalyzeRequest struct {
	VideoPath          string            `json:"video_path"`
	OutputPath         string            `json:"output_path,omitempty"`
	BriefPath          string            `json:"brief_path,omitempty"`
	CustomSpell        []json.RawMessage `json:"custom_spell,omitempty"`
	SilenceThresholdMs int               `json:"silence_threshold_ms"`
}

// AnalyzeResponse is the transcribe service's analysis result.
type AnalyzeResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	OutputFile string          `json:"output_file,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// RuntimeStatus describes the supervised transcription API process.
type RuntimeStatus struct {
	IsReady        bool   `json:"isReady"`
	BaseURL        string `json:"baseURL"`
	ProcessRunning bool   `json:"processRunning"`
	PID            int    `json:"pid,omitempty"`
	StartedAt      string `json:"startedAt,omitempty"`
}
