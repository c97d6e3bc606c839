package models

import "time"

// FileInfo describes an upload staged on disk before it is forwarded.
type FileInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// UploadRecord is an archived transcription upload submission.
type UploadRecord struct {
	JobID         string    `json:"jobId" msgpack:"job_id"`
	FileName      string    `json:"fileName" msgpack:"file_name"`
	Size          int64     `json:"size" msgpack:"size"`
	QueuePosition int       `json:"queuePosition" msgpack:"queue_position"`
	SubmittedAt   time.Time `json:"submittedAt" msgpack:"submitted_at"`
}
