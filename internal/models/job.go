package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// JobConfig is the configuration payload stored with a job.
type JobConfig struct {
	MaxFrames          int    `json:"max_frames"`
	FPS                int    `json:"fps"`
	OCRInterval        int    `json:"ocr_interval"`
	ClusteringInterval int    `json:"clustering_interval"`
	MockMode           bool   `json:"mock_mode"`
	RequestID          string `json:"request_id,omitempty"`
}

// DefaultJobConfig mirrors the defaults of the job creation form.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		MaxFrames:          240,
		FPS:                30,
		OCRInterval:        30,
		ClusteringInterval: 5,
		MockMode:           true,
	}
}

// Job is the persisted unit of work. A job row is only written by the worker that
// claimed it, apart from the cancel flag.
type Job struct {
	ID              string      `gorm:"primaryKey;size:64" json:"job_id"`
	Status          JobStatus   `gorm:"size:16;not null;index:idx_jobs_status" json:"status"`
	RequestedBy     string      `gorm:"size:120;not null;uniqueIndex:idx_jobs_requester_idem,priority:1" json:"requested_by"`
	IdempotencyKey  *string     `gorm:"size:200;uniqueIndex:idx_jobs_requester_idem,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time   `gorm:"index:idx_jobs_created_at" json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	MaxFrames       int         `gorm:"not null" json:"max_frames"`
	ProcessedFrames int         `gorm:"not null;default:0" json:"processed_frames"`
	Progress        float64     `gorm:"not null;default:0" json:"progress"`
	Config          JobConfig   `gorm:"column:payload_json;serializer:json" json:"config"`
	Zones           []Zone      `gorm:"column:zones_json;serializer:json" json:"zones"`
	Summary         *RunSummary `gorm:"column:summary_json;serializer:json" json:"summary,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	CancelRequested bool        `gorm:"not null;default:false" json:"cancel_requested"`
	AverageFPS      float64     `gorm:"column:average_fps;not null;default:0" json:"-"`
	RetryOf         *string     `gorm:"size:64" json:"retry_of,omitempty"`
	InputPath       string      `gorm:"not null" json:"-"`
	OutputVideoPath string      `gorm:"not null" json:"-"`
	AnalyticsPath   string      `gorm:"not null" json:"-"`
}

func (Job) TableName() string { return "jobs" }

// JobMetrics aggregates the job table.
type JobMetrics struct {
	TotalJobs        int64   `json:"total_jobs"`
	Queued           int64   `json:"queued"`
	Running          int64   `json:"running"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Cancelled        int64   `json:"cancelled"`
	AvgProcessingFPS float64 `json:"avg_processing_fps"`
}
