package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mtr002/Job-Sync/internal/client"
	"github.com/mtr002/Job-Sync/internal/connection"
	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
)

const DefaultPollInterval = 2 * time.Second

var (
	ErrAlreadyStarted = errors.New("synchronizer already started")
	ErrStopped        = errors.New("synchronizer stopped")
)

// API is the subset of the job service a Synchronizer pulls from.
type API interface {
	GetJobStatus(ctx context.Context, jobID string) (interfaces.StatusPayload, error)
	GetJobResult(ctx context.Context, jobID string) (interfaces.JobResult, error)
	CancelJob(ctx context.Context, jobID string) (interfaces.CancelPayload, error)
}

// PushSource is the push side of synchronization, implemented by
// connection.Manager.
type PushSource interface {
	Subscribe(jobID string)
	Unsubscribe(jobID string)
	ClearUpdate(jobID string)
	State() connection.State
	Watch(jobID string) (<-chan interfaces.JobUpdate, func())
	WatchState() (<-chan connection.State, func())
}

type SyncOptions struct {
	// PollInterval paces status pulls while the push channel is not open.
	PollInterval time.Duration
	// OnComplete fires once when the job completed and its result is known.
	OnComplete func(interfaces.JobResult)
	// OnFailure fires once when the job failed or was cancelled.
	OnFailure func(interfaces.JobResult)
}

// StatusView is a point-in-time copy of what is known about one job.
type StatusView struct {
	JobID         string
	Status        interfaces.JobStatus
	Progress      int
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Result        *interfaces.JobResult
	ResultFetched bool
	Err           error
}

type resultState int

const (
	resultNone resultState = iota
	resultFetching
	resultFetched
)

// Synchronizer keeps one job's view consistent across push updates and
// status pulls, and hands the terminal result to observers exactly once.
type Synchronizer struct {
	jobID string
	api   API
	push  PushSource
	opts  SyncOptions
	pulls singleflight.Group

	mu        sync.Mutex
	rec       interfaces.JobUpdate
	result    *interfaces.JobResult
	guard     resultState
	delivered bool
	err       error
	started   bool
	stopped   bool
	ctx       context.Context
	cancel    context.CancelFunc
	changes   chan StatusView
	wake      chan struct{}
}

// NewSynchronizer builds a synchronizer for jobID. push may be nil, in
// which case the job is tracked by polling alone.
func NewSynchronizer(jobID string, api API, push PushSource, opts SyncOptions) *Synchronizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Synchronizer{
		jobID:   jobID,
		api:     api,
		push:    push,
		opts:    opts,
		rec:     interfaces.JobUpdate{JobID: jobID},
		changes: make(chan StatusView, 1),
		wake:    make(chan struct{}, 1),
	}
}

func (s *Synchronizer) JobID() string {
	return s.jobID
}

// Start seeds the view with a status pull, subscribes for pushes and starts
// the poll loop. A failed seed pull is recorded in the view; polling keeps
// retrying it.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.ctx
	s.mu.Unlock()

	metrics.TrackedJobs.Inc()
	log := logger.WithJobID(s.jobID)

	var (
		updates   <-chan interfaces.JobUpdate
		states    <-chan connection.State
		unwatch   = func() {}
		unwatchSt = func() {}
	)
	if s.push != nil {
		s.push.Subscribe(s.jobID)
		updates, unwatch = s.push.Watch(s.jobID)
		states, unwatchSt = s.push.WatchState()
	}

	if err := s.Refresh(loopCtx); err != nil {
		log.Warn().Err(err).Msg("Initial status pull failed")
	}

	go s.run(loopCtx, updates, states, func() {
		unwatch()
		unwatchSt()
	})
	log.Debug().Dur("poll_interval", s.opts.PollInterval).Bool("push", s.push != nil).Msg("Tracking job")
	return nil
}

func (s *Synchronizer) run(ctx context.Context, updates <-chan interfaces.JobUpdate, states <-chan connection.State, release func()) {
	defer release()

	state := connection.StateDisconnected
	if s.push != nil {
		state = s.push.State()
	}
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		poll := s.needsPoll(state)
		switch {
		case poll && ticker == nil:
			ticker = time.NewTicker(s.opts.PollInterval)
			tick = ticker.C
		case !poll && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}

		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.apply(u)
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			state = st
		case <-s.wake:
		case <-tick:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.WithJobID(s.jobID).Debug().Err(err).Msg("Status poll failed")
			}
		}
	}
}

// Refresh pulls the current status now. Concurrent calls share one request.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	v, err, _ := s.pulls.Do("status", func() (any, error) {
		return s.api.GetJobStatus(ctx, s.jobID)
	})
	if err != nil {
		err = fmt.Errorf("failed to refresh job %s: %w", s.jobID, err)
		s.setErr(err)
		return err
	}

	p := v.(interfaces.StatusPayload)
	u := p.Update()
	u.JobID = s.jobID
	u.ReceivedAt = time.Now()

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.apply(u)
	return nil
}

// Cancel asks the service to cancel the job and re-pulls its status. It
// reports false without a request when the job is already terminal.
func (s *Synchronizer) Cancel(ctx context.Context) (bool, error) {
	if s.isTerminal() {
		return false, nil
	}

	resp, err := s.api.CancelJob(ctx, s.jobID)
	switch {
	case err != nil && !isRejection(err):
		err = fmt.Errorf("failed to cancel job %s: %w", s.jobID, err)
		s.setErr(err)
		return false, err
	case err != nil:
		err = fmt.Errorf("failed to cancel job %s: %w", s.jobID, err)
	case !resp.Success:
		err = fmt.Errorf("cancel job %s rejected: %s", s.jobID, resp.Message)
	}
	if err != nil {
		// The service may have finished the job after our last observation.
		if rerr := s.Refresh(ctx); rerr == nil && s.isTerminal() {
			logger.WithJobID(s.jobID).Debug().Msg("Cancel skipped, job already finished")
			return false, nil
		}
		s.setErr(err)
		return false, err
	}

	logger.WithJobID(s.jobID).Info().Msg("Job cancelled")
	if err := s.Refresh(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Synchronizer) isTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Status.IsTerminal()
}

// isRejection reports whether the service refused the cancel request
// itself, as opposed to the request not getting through.
func isRejection(err error) bool {
	var reqErr *client.RequestError
	return errors.As(err, &reqErr) &&
		(reqErr.StatusCode == http.StatusBadRequest || reqErr.StatusCode == http.StatusConflict)
}

// Stop ends tracking. No callback is dispatched after it; a callback
// already running is not waited for, so Stop may be called from one.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	close(s.changes)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.push != nil && started {
		s.push.Unsubscribe(s.jobID)
		s.push.ClearUpdate(s.jobID)
	}
	if started {
		metrics.TrackedJobs.Dec()
	}
	logger.WithJobID(s.jobID).Debug().Msg("Stopped tracking job")
}

// Snapshot returns the current view.
func (s *Synchronizer) Snapshot() StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Changes streams the latest view after every change. It holds at most one
// value and is closed by Stop.
func (s *Synchronizer) Changes() <-chan StatusView {
	return s.changes
}

// needsPoll reports whether status pulls should run. A terminal job whose
// result fetch failed keeps polling so the fetch is retried.
func (s *Synchronizer) needsPoll(state connection.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status.IsTerminal() {
		return s.guard == resultNone
	}
	return state != connection.StateOpen
}

// apply merges u into the view and starts the result fetch on the first
// terminal observation.
func (s *Synchronizer) apply(u interfaces.JobUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	merged, applied := interfaces.MergeUpdate(s.rec, u)
	if !applied {
		metrics.DiscardedUpdatesTotal.WithLabelValues("terminal").Inc()
		return
	}
	s.rec = merged
	s.publishLocked()

	if merged.Status.IsTerminal() && s.guard == resultNone {
		s.guard = resultFetching
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		go s.fetchResult(ctx, merged)
	}
}

func (s *Synchronizer) fetchResult(ctx context.Context, rec interfaces.JobUpdate) {
	log := logger.WithJobID(s.jobID)

	var (
		res interfaces.JobResult
		err error
	)
	if rec.Status == interfaces.StatusCancelled {
		res = resultFromStatus(rec)
	} else {
		metrics.ResultFetchesTotal.Inc()
		res, err = s.api.GetJobResult(ctx, s.jobID)
		if err != nil && rec.Status == interfaces.StatusFailed && client.IsNotFound(err) {
			res, err = resultFromStatus(rec), nil
		}
	}

	s.mu.Lock()
	if err != nil {
		s.guard = resultNone
		s.err = fmt.Errorf("failed to fetch result for job %s: %w", s.jobID, err)
		if !s.stopped {
			s.publishLocked()
		}
		s.mu.Unlock()
		log.Warn().Err(err).Msg("Result fetch failed")
		select {
		case s.wake <- struct{}{}:
		default:
		}
		return
	}
	s.result = &res
	s.guard = resultFetched
	deliver := !s.delivered && !s.stopped
	if deliver {
		s.delivered = true
		s.publishLocked()
	}
	status := s.rec.Status
	s.mu.Unlock()

	if !deliver {
		return
	}
	metrics.TerminalDeliveriesTotal.WithLabelValues(string(status)).Inc()
	log.Info().Str("status", string(status)).Bool("success", res.Success).Msg("Job finished")

	if status == interfaces.StatusCompleted {
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(res)
		}
		return
	}
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(res)
	}
}

func (s *Synchronizer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	if !s.stopped {
		s.publishLocked()
	}
}

func (s *Synchronizer) publishLocked() {
	v := s.viewLocked()
	select {
	case <-s.changes:
	default:
	}
	select {
	case s.changes <- v:
	default:
	}
}

func (s *Synchronizer) viewLocked() StatusView {
	v := StatusView{
		JobID:         s.jobID,
		Status:        s.rec.Status,
		ResultFetched: s.guard == resultFetched,
		Err:           s.err,
	}
	if s.rec.Progress != nil {
		v.Progress = *s.rec.Progress
	}
	if s.rec.Message != nil {
		v.Message = *s.rec.Message
	}
	if s.rec.CreatedAt != nil {
		v.CreatedAt = *s.rec.CreatedAt
	}
	if s.rec.UpdatedAt != nil {
		v.UpdatedAt = *s.rec.UpdatedAt
	} else {
		v.UpdatedAt = s.rec.ReceivedAt
	}
	if s.result != nil {
		res := *s.result
		v.Result = &res
	}
	return v
}

// resultFromStatus builds a result for jobs whose outcome is carried by the
// status itself.
func resultFromStatus(rec interfaces.JobUpdate) interfaces.JobResult {
	res := interfaces.JobResult{
		JobID:   rec.JobID,
		Success: rec.Status == interfaces.StatusCompleted,
		Result:  rec.Result,
	}
	switch {
	case rec.Error != nil:
		res.Error = *rec.Error
	case rec.Message != nil:
		res.Error = *rec.Message
	default:
		res.Error = "job " + string(rec.Status)
	}
	switch {
	case rec.CompletedAt != nil:
		res.CompletedAt = *rec.CompletedAt
	case rec.UpdatedAt != nil:
		res.CompletedAt = *rec.UpdatedAt
	default:
		res.CompletedAt = rec.ReceivedAt
	}
	return res
}
