package db

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

const (
	JobTypeEmailProcessing     = "email_processing"
	JobTypeThumbnailGeneration = "thumbnail_generation"
)

// ProcessingJob 表示 processing_jobs 表
type ProcessingJob struct {
	ID           string          `json:"id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EmailJobPayload is the payload of an email_processing job.
type EmailJobPayload struct {
	RawEmailID string `json:"raw_email_id"`
	TraceID    string `json:"trace_id,omitempty"`
}

// ThumbnailJobPayload is the payload of a thumbnail_generation job.
type ThumbnailJobPayload struct {
	ArticleID string `json:"article_id"`
	TraceID   string `json:"trace_id,omitempty"`
}
