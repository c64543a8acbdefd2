package interfaces

import (
	"encoding/json"
	"math"
	"time"
)

// Wire payloads shared by the HTTP client and the development backend.
// Timestamps travel as fractional unix seconds.

type StatusPayload struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Progress  *float64       `json:"progress,omitempty"`
	Message   *string        `json:"message,omitempty"`
	CreatedAt *float64       `json:"created_at,omitempty"`
	UpdatedAt *float64       `json:"updated_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Update converts a status pull into a JobUpdate.
func (p StatusPayload) Update() JobUpdate {
	return JobUpdate{
		JobID:     p.JobID,
		Status:    p.Status,
		Progress:  percent(p.Progress),
		Message:   p.Message,
		CreatedAt: FromUnixSeconds(p.CreatedAt),
		UpdatedAt: FromUnixSeconds(p.UpdatedAt),
	}
}

// Summary converts a status payload into a listing row.
func (p StatusPayload) Summary() JobSummary {
	s := JobSummary{
		JobID:    p.JobID,
		Status:   p.Status,
		Progress: percent(p.Progress),
		Metadata: p.Metadata,
	}
	if p.Message != nil {
		s.Message = *p.Message
	}
	if t := FromUnixSeconds(p.CreatedAt); t != nil {
		s.CreatedAt = *t
	}
	if t := FromUnixSeconds(p.UpdatedAt); t != nil {
		s.UpdatedAt = *t
	}
	return s
}

type ResultPayload struct {
	JobID       string          `json:"job_id"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CompletedAt *float64        `json:"completed_at,omitempty"`
}

// JobResult converts the payload into a JobResult.
func (p ResultPayload) JobResult() JobResult {
	r := JobResult{
		JobID:   p.JobID,
		Success: p.Success,
		Result:  p.Result,
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if t := FromUnixSeconds(p.CompletedAt); t != nil {
		r.CompletedAt = *t
	}
	return r
}

type ListPayload struct {
	Jobs           []StatusPayload `json:"jobs"`
	TotalCount     int             `json:"total_count"`
	ActiveCount    int             `json:"active_count"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
}

// JobList converts the payload into a JobList.
func (p ListPayload) JobList() JobList {
	list := JobList{
		Jobs:           make([]JobSummary, 0, len(p.Jobs)),
		TotalCount:     p.TotalCount,
		ActiveCount:    p.ActiveCount,
		CompletedCount: p.CompletedCount,
		FailedCount:    p.FailedCount,
	}
	for _, j := range p.Jobs {
		list.Jobs = append(list.Jobs, j.Summary())
	}
	return list
}

type HealthPayload struct {
	Status               string  `json:"status"`
	ActiveJobsCount      int     `json:"active_jobs_count"`
	WebsocketConnections int     `json:"websocket_connections"`
	JobSubscriptions     int     `json:"job_subscriptions"`
	Timestamp            float64 `json:"timestamp"`
	Error                string  `json:"error,omitempty"`
}

// SystemHealth converts the payload into a SystemHealth snapshot.
func (p HealthPayload) SystemHealth() SystemHealth {
	h := SystemHealth{
		Status:            p.Status,
		ActiveJobsCount:   p.ActiveJobsCount,
		ConnectionCount:   p.WebsocketConnections,
		SubscriptionCount: p.JobSubscriptions,
		Error:             p.Error,
	}
	if t := FromUnixSeconds(&p.Timestamp); t != nil {
		h.Timestamp = *t
	}
	return h
}

type CancelPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UpdateData is the "data" object of a pushed job_update message.
type UpdateData struct {
	Status      JobStatus       `json:"status,omitempty"`
	Progress    *float64        `json:"progress,omitempty"`
	Message     *string         `json:"message,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CompletedAt *float64        `json:"completed_at,omitempty"`
}

// Update converts pushed data for jobID into a JobUpdate.
func (d UpdateData) Update(jobID string) JobUpdate {
	return JobUpdate{
		JobID:       jobID,
		Status:      d.Status,
		Progress:    percent(d.Progress),
		Message:     d.Message,
		Result:      d.Result,
		Error:       d.Error,
		CompletedAt: FromUnixSeconds(d.CompletedAt),
	}
}

// UnixSeconds renders t as fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds parses fractional unix seconds; nil or zero yields nil.
func FromUnixSeconds(secs *float64) *time.Time {
	if secs == nil || *secs <= 0 {
		return nil
	}
	whole, frac := math.Modf(*secs)
	t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return &t
}

func percent(v *float64) *int {
	if v == nil {
		return nil
	}
	p := ClampProgress(int(math.Round(*v)))
	return &p
}
