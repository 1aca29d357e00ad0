package domain

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a job with this status occupies a queue position.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// ProviderSettings is the credential/config snapshot captured at enqueue
// time so later credential changes do not affect in-flight jobs.
type ProviderSettings struct {
	ChannelRef string
	Credential string
	SessionRef string
	Version    int
	Enabled    bool
}

// Job is the durable unit tracked by the generation queue.
type Job struct {
	ID           string
	SubjectRef   string
	RequesterID  string
	TenantID     string
	ScopeID      string
	Status       JobStatus
	Position     int
	Description  string
	CustomPrompt string

	ProviderSettings ProviderSettings

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage string

	// Three independent retry ladders, one counter each: generic retryable
	// failures, the provider's own concurrency cap, and provider-internal
	// queue congestion.
	RetryCount            int
	ConcurrencyRetryCount int
	CongestionRetryCount  int

	// NotBefore delays re-dispatch of a re-queued job; zero means eligible.
	NotBefore time.Time

	// Best progress percentage observed across attempts, for status display.
	ProgressPercent int

	AssetPath      string
	AssetRemoteURL string
	AssetDegraded  bool
}

// HasAsset reports whether the job carries any asset reference, local or
// degraded remote.
func (j *Job) HasAsset() bool {
	return j.AssetPath != "" || j.AssetRemoteURL != ""
}

type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// JobView is the external representation returned by status queries.
type JobView struct {
	JobID               string     `json:"job_id"`
	SubjectRef          string     `json:"subject_ref"`
	Status              JobStatus  `json:"status"`
	Position            int        `json:"position"`
	ProgressPercent     int        `json:"progress_percent,omitempty"`
	ErrorMessage        string     `json:"error,omitempty"`
	AssetPath           string     `json:"asset_path,omitempty"`
	AssetRemoteURL      string     `json:"asset_remote_url,omitempty"`
	AssetDegraded       bool       `json:"asset_degraded,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ViewOf converts a job to its external representation.
func ViewOf(job *Job) JobView {
	return JobView{
		JobID:           job.ID,
		SubjectRef:      job.SubjectRef,
		Status:          job.Status,
		Position:        job.Position,
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
		AssetPath:       job.AssetPath,
		AssetRemoteURL:  job.AssetRemoteURL,
		AssetDegraded:   job.AssetDegraded,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}
}
