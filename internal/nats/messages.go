package nats

import (
	"encoding/json"
	"time"
)

type JobSubmissionMessage struct {
	JobID         string `json:"job_id"`
	Type          string `json:"type"`
	UserPlan      string `json:"user_plan,omitempty"`
	EstimatedTime int    `json:"estimated_time"`
}

type JobStatusMessage struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
