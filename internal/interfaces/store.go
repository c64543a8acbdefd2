package interfaces

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is the backend's record of a submitted job.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Request     SubmitRequest   `json:"request"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Type: %s, Status: %s, Progress: %d}",
		j.ID, j.Type, j.Status, j.Progress)
}

// StatusPayload renders the job the way the status endpoint reports it.
func (j *Job) StatusPayload() StatusPayload {
	progress := float64(j.Progress)
	created := UnixSeconds(j.CreatedAt)
	updated := UnixSeconds(j.UpdatedAt)
	p := StatusPayload{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  &progress,
		CreatedAt: &created,
		UpdatedAt: &updated,
		Metadata:  map[string]any{"job_type": string(j.Type)},
	}
	if j.Message != "" {
		msg := j.Message
		p.Message = &msg
	}
	return p
}

// ResultPayload renders the job's outcome. ok is false until the job has
// completed or failed.
func (j *Job) ResultPayload() (ResultPayload, bool) {
	if j.Status != StatusCompleted && j.Status != StatusFailed {
		return ResultPayload{}, false
	}
	p := ResultPayload{
		JobID:   j.ID,
		Success: j.Status == StatusCompleted,
		Result:  j.Result,
	}
	if j.Error != "" {
		errMsg := j.Error
		p.Error = &errMsg
	}
	if j.CompletedAt != nil {
		completed := UnixSeconds(*j.CompletedAt)
		p.CompletedAt = &completed
	}
	return p, true
}

// JobStore interface defines the storage operations needed by the backend
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	CancelJob(id string) (*Job, error)
	GetPendingJob() (*Job, error)
	ListJobs(limit, offset int) ([]*Job, int, error)
	CountByStatus() map[JobStatus]int
}
