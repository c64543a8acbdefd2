package db

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/Job-Sync/internal/interfaces"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrJobNotCancellable = errors.New("job cannot be cancelled in its current state")
)

// Store keeps jobs in memory. Every method hands out copies, so callers may
// mutate what they get back.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*interfaces.Job
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{jobs: make(map[string]*interfaces.Job)}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(job *interfaces.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("failed to create job %s: %w", job.ID, ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*interfaces.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %s: %w", id, ErrJobNotFound)
	}
	return cloneJob(job), nil
}

// UpdateJob replaces a job. A job that already reached a terminal status is
// left untouched and the stored copy is written back into job.
func (s *Store) UpdateJob(job *interfaces.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("failed to update job %s: %w", job.ID, ErrJobNotFound)
	}
	if current.Status.IsTerminal() {
		*job = *cloneJob(current)
		return nil
	}

	job.UpdatedAt = time.Now()
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		completed := job.UpdatedAt
		job.CompletedAt = &completed
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// CancelJob moves a pending or processing job to cancelled.
func (s *Store) CancelJob(id string) (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %s: %w", id, ErrJobNotFound)
	}
	if !job.Status.IsActive() {
		return nil, fmt.Errorf("job with ID %s is %s: %w", id, job.Status, ErrJobNotCancellable)
	}

	now := time.Now()
	job.Status = interfaces.StatusCancelled
	job.Message = "Job cancelled by user"
	job.UpdatedAt = now
	job.CompletedAt = &now
	return cloneJob(job), nil
}

// GetPendingJob claims the oldest pending job and marks it processing. It
// returns nil when nothing is pending.
func (s *Store) GetPendingJob() (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *interfaces.Job
	for _, job := range s.jobs {
		if job.Status != interfaces.StatusPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = interfaces.StatusProcessing
	next.UpdatedAt = time.Now()
	return cloneJob(next), nil
}

// ListJobs returns a page of jobs, newest first, and the total job count.
func (s *Store) ListJobs(limit, offset int) ([]*interfaces.Job, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, fmt.Errorf("invalid page limit=%d offset=%d", limit, offset)
	}

	s.mu.RLock()
	all := make([]*interfaces.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset >= total {
		return []*interfaces.Job{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// CountByStatus returns the number of jobs in each status.
func (s *Store) CountByStatus() map[interfaces.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[interfaces.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

func cloneJob(job *interfaces.Job) *interfaces.Job {
	c := *job
	if job.Result != nil {
		c.Result = append([]byte(nil), job.Result...)
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	if job.Request.Metadata != nil {
		md := make(map[string]any, len(job.Request.Metadata))
		for k, v := range job.Request.Metadata {
			md[k] = v
		}
		c.Request.Metadata = md
	}
	return &c
}
