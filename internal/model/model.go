package model

import (
	"encoding/json"
	"time"
)

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Delivery status constants. These match the per-artifact status strings on
// the wire.
const (
	DeliverySuccess = "success"
	DeliveryError   = "error"
)

// WorkflowSpec is an opaque workflow document. The orchestrator never
// inspects its internals; it is handed to the engine verbatim.
type WorkflowSpec = json.RawMessage

// InputImage is a named input asset to stage on the engine before
// submission. Image carries the base64-encoded content.
type InputImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// JobInput is the normalized job payload after validation.
type JobInput struct {
	Workflows      []WorkflowSpec `json:"workflow"`
	Images         []InputImage   `json:"images,omitempty"`
	InferenceJobID string         `json:"inferenceJobId,omitempty"`
}

// SubmissionHandle is the orchestrator's reference to one in-flight engine
// submission. Immutable once created.
type SubmissionHandle struct {
	WorkflowIndex int
	PromptID      string
}

// DeliveryResult records the outcome for a single artifact: a storage URL or
// inline-encoded content on success, a human-readable message on error.
type DeliveryResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResult is the aggregate outcome of one job run.
type JobResult struct {
	Result        []DeliveryResult `json:"result"`
	RefreshWorker bool             `json:"refresh_worker"`
}

// Job is the persisted record of one job run.
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	InferenceJobID string     `json:"inference_job_id,omitempty"`
	WorkflowCount  int        `json:"workflow_count"`
	Error          string     `json:"error,omitempty"`
	RefreshWorker  bool       `json:"refresh_worker"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Delivery is the persisted record of one artifact delivery within a job.
type Delivery struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
