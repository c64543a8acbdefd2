package interfaces

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job is still queued or running.
func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// JobType identifies the kind of work the backend executes.
type JobType string

const (
	JobTypeCompile  JobType = "latex_compilation"
	JobTypeOptimize JobType = "llm_optimization"
	JobTypeCombined JobType = "combined"
	JobTypeScore    JobType = "ats_scoring"
)

// JobUpdate is the latest known state of a job as reported by either the
// push channel or a status pull. Nil fields are unknown, not empty.
type JobUpdate struct {
	JobID       string          `json:"job_id"`
	Status      JobStatus       `json:"status,omitempty"`
	Progress    *int            `json:"progress,omitempty"`
	Message     *string         `json:"message,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// ReceivedAt is assigned locally by whoever received the update.
	ReceivedAt time.Time `json:"-"`
}

// String returns a string representation of the update
func (u JobUpdate) String() string {
	progress := "-"
	if u.Progress != nil {
		progress = fmt.Sprintf("%d%%", *u.Progress)
	}
	return fmt.Sprintf("JobUpdate{ID: %s, Status: %s, Progress: %s}", u.JobID, u.Status, progress)
}

// JobResult is the final outcome of a job, fetched once it is terminal.
type JobResult struct {
	JobID       string          `json:"job_id"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Progress  *int           `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JobList is a page of jobs plus the server side counters.
type JobList struct {
	Jobs           []JobSummary
	TotalCount     int
	ActiveCount    int
	CompletedCount int
	FailedCount    int
}

// SystemHealth is the aggregate backend health snapshot.
type SystemHealth struct {
	Status            string
	ActiveJobsCount   int
	ConnectionCount   int
	SubscriptionCount int
	Timestamp         time.Time
	Error             string
}

// SubmitRequest is a fully built job submission.
type SubmitRequest struct {
	JobType           JobType        `json:"job_type" validate:"required,oneof=latex_compilation llm_optimization combined ats_scoring"`
	LatexContent      string         `json:"latex_content,omitempty" validate:"required"`
	JobDescription    string         `json:"job_description,omitempty" validate:"required_if=JobType llm_optimization,required_if=JobType combined"`
	OptimizationLevel string         `json:"optimization_level,omitempty" validate:"omitempty,oneof=conservative balanced aggressive"`
	UserPlan          string         `json:"user_plan,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// SubmitResponse is returned by the backend after a job has been queued.
type SubmitResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"job_id"`
	Message       string `json:"message"`
	EstimatedTime *int   `json:"estimated_time,omitempty"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}
