package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
)

const (
	DefaultListLimit          = 50
	DefaultListInterval       = 10 * time.Second
	DefaultHealthInterval     = 30 * time.Second
	DefaultSubmitRefreshDelay = time.Second
)

var (
	ErrClosed         = errors.New("job manager closed")
	ErrAlreadyTracked = errors.New("job already tracked")
)

// Client is everything the Manager needs from the job service.
type Client interface {
	API
	CreateJob(ctx context.Context, req interfaces.SubmitRequest) (*interfaces.SubmitResponse, error)
	ListJobs(ctx context.Context, limit, offset int) (interfaces.JobList, error)
	SystemHealth(ctx context.Context) (interfaces.SystemHealth, error)
}

type ManagerConfig struct {
	ListLimit          int
	ListInterval       time.Duration
	HealthInterval     time.Duration
	SubmitRefreshDelay time.Duration
	PollInterval       time.Duration
}

func (c *ManagerConfig) setDefaults() {
	if c.ListLimit <= 0 {
		c.ListLimit = DefaultListLimit
	}
	if c.ListInterval <= 0 {
		c.ListInterval = DefaultListInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.SubmitRefreshDelay <= 0 {
		c.SubmitRefreshDelay = DefaultSubmitRefreshDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Listing is the latest job page split into status classes. Cancelled jobs
// appear only in All.
type Listing struct {
	All       []interfaces.JobSummary
	Active    []interfaces.JobSummary
	Completed []interfaces.JobSummary
	Failed    []interfaces.JobSummary

	TotalCount     int
	ActiveCount    int
	CompletedCount int
	FailedCount    int

	RefreshedAt time.Time
}

// Errors holds the last error of each facade operation; nil means the last
// attempt succeeded.
type Errors struct {
	Submit error
	List   error
	Health error
}

// Manager is the job management facade: submission, listing, health and
// tracking of individual jobs.
type Manager struct {
	client   Client
	push     PushSource
	cfg      ManagerConfig
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	listing Listing
	health  *interfaces.SystemHealth
	errs    Errors
	timers  map[*time.Timer]struct{}
	tracked map[string]*Synchronizer
	started bool
	closed  bool
}

// NewManager creates a new job manager. push may be nil for polling only.
func NewManager(c Client, push PushSource, cfg ManagerConfig) *Manager {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:   c,
		push:     push,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[*time.Timer]struct{}),
		tracked:  make(map[string]*Synchronizer),
	}
}

// Submit validates and submits a job and returns its id. A listing refresh
// follows shortly after a successful submission.
func (m *Manager) Submit(ctx context.Context, req interfaces.SubmitRequest) (string, error) {
	if err := m.validate.Struct(req); err != nil {
		err = fmt.Errorf("invalid job submission: %w", err)
		m.setErr(func(e *Errors) { e.Submit = err })
		return "", err
	}

	resp, err := m.client.CreateJob(ctx, req)
	if err != nil {
		err = fmt.Errorf("failed to submit job: %w", err)
		m.setErr(func(e *Errors) { e.Submit = err })
		return "", err
	}
	m.setErr(func(e *Errors) { e.Submit = nil })

	log := logger.WithJobID(resp.JobID)
	ev := log.Info().Str("type", string(req.JobType))
	if resp.EstimatedTime != nil {
		ev = ev.Int("estimated_time", *resp.EstimatedTime)
	}
	ev.Msg("Job submitted successfully")

	m.afterFunc(m.cfg.SubmitRefreshDelay, func() {
		if _, err := m.ListJobs(m.ctx, 0); err != nil && m.ctx.Err() == nil {
			logger.Logger.Warn().Err(err).Msg("Post-submit listing refresh failed")
		}
	})
	return resp.JobID, nil
}

// ListJobs fetches the first page of jobs, newest update first, and
// classifies it. limit <= 0 uses the configured limit.
func (m *Manager) ListJobs(ctx context.Context, limit int) (Listing, error) {
	if limit <= 0 {
		limit = m.cfg.ListLimit
	}
	list, err := m.client.ListJobs(ctx, limit, 0)
	if err != nil {
		err = fmt.Errorf("failed to list jobs: %w", err)
		m.setErr(func(e *Errors) { e.List = err })
		return Listing{}, err
	}

	listing := classify(list)
	listing.RefreshedAt = time.Now()

	m.mu.Lock()
	m.listing = listing
	m.errs.List = nil
	m.mu.Unlock()
	return listing, nil
}

// Listing returns the most recently fetched listing.
func (m *Manager) Listing() Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listing
}

// RefreshSystemHealth fetches the backend health snapshot.
func (m *Manager) RefreshSystemHealth(ctx context.Context) (interfaces.SystemHealth, error) {
	h, err := m.client.SystemHealth(ctx)
	if err != nil {
		err = fmt.Errorf("failed to fetch system health: %w", err)
		m.setErr(func(e *Errors) { e.Health = err })
		return interfaces.SystemHealth{}, err
	}

	m.mu.Lock()
	m.health = &h
	m.errs.Health = nil
	m.mu.Unlock()
	return h, nil
}

// Health returns the last health snapshot, if any.
func (m *Manager) Health() (interfaces.SystemHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health == nil {
		return interfaces.SystemHealth{}, false
	}
	return *m.health, true
}

func (m *Manager) Errors() Errors {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs
}

// Refresh reloads the listing and the health snapshot concurrently.
func (m *Manager) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := m.ListJobs(gctx, 0)
		return err
	})
	g.Go(func() error {
		_, err := m.RefreshSystemHealth(gctx)
		return err
	})
	return g.Wait()
}

// Start performs an initial refresh and keeps the listing and health fresh
// until Close or ctx is done. A failed initial refresh does not stop the
// periodic one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.wg.Add(2)
	m.mu.Unlock()

	if err := m.Refresh(ctx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Initial refresh failed")
	}

	go m.every(ctx, m.cfg.ListInterval, func(ctx context.Context) error {
		_, err := m.ListJobs(ctx, 0)
		return err
	})
	go m.every(ctx, m.cfg.HealthInterval, func(ctx context.Context) error {
		_, err := m.RefreshSystemHealth(ctx)
		return err
	})
	return nil
}

func (m *Manager) every(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := fn(m.ctx); err != nil && m.ctx.Err() == nil {
				logger.Logger.Debug().Err(err).Msg("Periodic refresh failed")
			}
		}
	}
}

// Track starts a Synchronizer for jobID bound to the manager's push source.
// Zero PollInterval in opts uses the manager's.
func (m *Manager) Track(ctx context.Context, jobID string, opts SyncOptions) (*Synchronizer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = m.cfg.PollInterval
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := m.tracked[jobID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, jobID)
	}
	s := NewSynchronizer(jobID, m.client, m.push, opts)
	m.tracked[jobID] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.Untrack(jobID)
		return nil, err
	}
	return s, nil
}

// Untrack stops and forgets the synchronizer for jobID.
func (m *Manager) Untrack(jobID string) {
	m.mu.Lock()
	s, ok := m.tracked[jobID]
	delete(m.tracked, jobID)
	m.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// Close stops periodic refreshes, pending post-submit refreshes and every
// tracked job.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[*time.Timer]struct{})
	tracked := m.tracked
	m.tracked = make(map[string]*Synchronizer)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	for _, s := range tracked {
		s.Stop()
	}
}

func (m *Manager) afterFunc(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		_, pending := m.timers[t]
		delete(m.timers, t)
		if pending {
			m.wg.Add(1)
		}
		m.mu.Unlock()
		if !pending {
			return
		}
		defer m.wg.Done()
		fn()
	})
	m.timers[t] = struct{}{}
}

func (m *Manager) setErr(fn func(*Errors)) {
	m.mu.Lock()
	fn(&m.errs)
	m.mu.Unlock()
}

func classify(list interfaces.JobList) Listing {
	all := make([]interfaces.JobSummary, len(list.Jobs))
	copy(all, list.Jobs)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	l := Listing{
		All:            all,
		TotalCount:     list.TotalCount,
		ActiveCount:    list.ActiveCount,
		CompletedCount: list.CompletedCount,
		FailedCount:    list.FailedCount,
	}
	for _, j := range all {
		switch {
		case j.Status.IsActive():
			l.Active = append(l.Active, j)
		case j.Status == interfaces.StatusCompleted:
			l.Completed = append(l.Completed, j)
		case j.Status == interfaces.StatusFailed:
			l.Failed = append(l.Failed, j)
		}
	}
	return l
}
