package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/Job-Sync/internal/connection"
	"github.com/mtr002/Job-Sync/internal/interfaces"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetJobStatus(ctx context.Context, jobID string) (interfaces.StatusPayload, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(interfaces.StatusPayload), args.Error(1)
}

func (m *mockClient) GetJobResult(ctx context.Context, jobID string) (interfaces.JobResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(interfaces.JobResult), args.Error(1)
}

func (m *mockClient) CancelJob(ctx context.Context, jobID string) (interfaces.CancelPayload, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(interfaces.CancelPayload), args.Error(1)
}

func (m *mockClient) CreateJob(ctx context.Context, req interfaces.SubmitRequest) (*interfaces.SubmitResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*interfaces.SubmitResponse)
	return resp, args.Error(1)
}

func (m *mockClient) ListJobs(ctx context.Context, limit, offset int) (interfaces.JobList, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).(interfaces.JobList), args.Error(1)
}

func (m *mockClient) SystemHealth(ctx context.Context) (interfaces.SystemHealth, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.SystemHealth), args.Error(1)
}

func summary(id string, status interfaces.JobStatus, updated time.Time) interfaces.JobSummary {
	return interfaces.JobSummary{JobID: id, Status: status, CreatedAt: updated.Add(-time.Minute), UpdatedAt: updated}
}

func compileRequest() interfaces.SubmitRequest {
	return interfaces.SubmitRequest{
		JobType:      interfaces.JobTypeCompile,
		LatexContent: `\documentclass{article}`,
	}
}

func TestManager_SubmitRejectsInvalidRequest(t *testing.T) {
	mc := &mockClient{}
	m := NewManager(mc, nil, ManagerConfig{})
	t.Cleanup(m.Close)

	_, err := m.Submit(context.Background(), interfaces.SubmitRequest{JobType: interfaces.JobTypeOptimize, LatexContent: "x"})

	require.Error(t, err)
	assert.Error(t, m.Errors().Submit)
	mc.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything)
}

func TestManager_SubmitRefreshesListing(t *testing.T) {
	mc := &mockClient{}
	estimated := 30
	mc.On("CreateJob", mock.Anything, compileRequest()).
		Return(&interfaces.SubmitResponse{Success: true, JobID: "abc123", EstimatedTime: &estimated}, nil)
	mc.On("ListJobs", mock.Anything, DefaultListLimit, 0).
		Return(interfaces.JobList{Jobs: []interfaces.JobSummary{summary("abc123", interfaces.StatusPending, time.Now())}, TotalCount: 1, ActiveCount: 1}, nil)

	m := NewManager(mc, nil, ManagerConfig{SubmitRefreshDelay: 10 * time.Millisecond})
	t.Cleanup(m.Close)

	id, err := m.Submit(context.Background(), compileRequest())
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.NoError(t, m.Errors().Submit)

	require.Eventually(t, func() bool { return len(m.Listing().Active) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, m.Listing().TotalCount)
}

func TestManager_SubmitErrorRecorded(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateJob", mock.Anything, mock.Anything).Return(nil, errors.New("service unavailable"))

	m := NewManager(mc, nil, ManagerConfig{})
	t.Cleanup(m.Close)

	_, err := m.Submit(context.Background(), compileRequest())
	require.Error(t, err)
	assert.ErrorContains(t, m.Errors().Submit, "service unavailable")
	assert.NoError(t, m.Errors().List)
}

func TestManager_ListJobsClassifies(t *testing.T) {
	now := time.Now()
	mc := &mockClient{}
	mc.On("ListJobs", mock.Anything, 20, 0).Return(interfaces.JobList{
		Jobs: []interfaces.JobSummary{
			summary("old-done", interfaces.StatusCompleted, now.Add(-3*time.Minute)),
			summary("running", interfaces.StatusProcessing, now),
			summary("queued", interfaces.StatusPending, now.Add(-time.Minute)),
			summary("broken", interfaces.StatusFailed, now.Add(-2*time.Minute)),
			summary("dropped", interfaces.StatusCancelled, now.Add(-4*time.Minute)),
		},
		TotalCount:     5,
		ActiveCount:    2,
		CompletedCount: 1,
		FailedCount:    1,
	}, nil)

	m := NewManager(mc, nil, ManagerConfig{})
	t.Cleanup(m.Close)

	listing, err := m.ListJobs(context.Background(), 20)
	require.NoError(t, err)

	ids := func(js []interfaces.JobSummary) []string {
		var out []string
		for _, j := range js {
			out = append(out, j.JobID)
		}
		return out
	}
	assert.Equal(t, []string{"running", "queued", "broken", "old-done", "dropped"}, ids(listing.All))
	assert.Equal(t, []string{"running", "queued"}, ids(listing.Active))
	assert.Equal(t, []string{"old-done"}, ids(listing.Completed))
	assert.Equal(t, []string{"broken"}, ids(listing.Failed))
	assert.Equal(t, 2, listing.ActiveCount)
	assert.False(t, listing.RefreshedAt.IsZero())
	assert.Equal(t, listing.All, m.Listing().All)
}

func TestManager_ListJobsErrorKeepsPreviousListing(t *testing.T) {
	mc := &mockClient{}
	mc.On("ListJobs", mock.Anything, DefaultListLimit, 0).
		Return(interfaces.JobList{Jobs: []interfaces.JobSummary{summary("a", interfaces.StatusPending, time.Now())}}, nil).Once()
	mc.On("ListJobs", mock.Anything, DefaultListLimit, 0).
		Return(interfaces.JobList{}, errors.New("timeout")).Once()

	m := NewManager(mc, nil, ManagerConfig{})
	t.Cleanup(m.Close)

	_, err := m.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	_, err = m.ListJobs(context.Background(), 0)
	require.Error(t, err)

	assert.Len(t, m.Listing().All, 1)
	assert.Error(t, m.Errors().List)
}

func TestManager_SystemHealth(t *testing.T) {
	mc := &mockClient{}
	mc.On("SystemHealth", mock.Anything).Return(interfaces.SystemHealth{Status: "healthy", ActiveJobsCount: 2}, nil)

	m := NewManager(mc, nil, ManagerConfig{})
	t.Cleanup(m.Close)

	_, ok := m.Health()
	assert.False(t, ok)

	h, err := m.RefreshSystemHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)

	got, ok := m.Health()
	require.True(t, ok)
	assert.Equal(t, 2, got.ActiveJobsCount)
}

func TestManager_StartRefreshesPeriodically(t *testing.T) {
	var lists, healths atomic.Int32
	mc := &mockClient{}
	mc.On("ListJobs", mock.Anything, DefaultListLimit, 0).
		Run(func(mock.Arguments) { lists.Add(1) }).
		Return(interfaces.JobList{}, nil)
	mc.On("SystemHealth", mock.Anything).
		Run(func(mock.Arguments) { healths.Add(1) }).
		Return(interfaces.SystemHealth{Status: "healthy"}, nil)

	m := NewManager(mc, nil, ManagerConfig{ListInterval: 10 * time.Millisecond, HealthInterval: 15 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return lists.Load() >= 3 && healths.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Close()
	stopped := lists.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, lists.Load())
	assert.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestManager_CloseCancelsPendingSubmitRefresh(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateJob", mock.Anything, mock.Anything).
		Return(&interfaces.SubmitResponse{Success: true, JobID: "abc123"}, nil)

	m := NewManager(mc, nil, ManagerConfig{SubmitRefreshDelay: 30 * time.Millisecond})
	_, err := m.Submit(context.Background(), compileRequest())
	require.NoError(t, err)

	m.Close()
	time.Sleep(60 * time.Millisecond)
	mc.AssertNotCalled(t, "ListJobs", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CloseWaitsForRunningSubmitRefresh(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mc := &mockClient{}
	mc.On("CreateJob", mock.Anything, mock.Anything).
		Return(&interfaces.SubmitResponse{Success: true, JobID: "abc123"}, nil)
	mc.On("ListJobs", mock.Anything, DefaultListLimit, 0).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(interfaces.JobList{}, nil).Once()

	m := NewManager(mc, nil, ManagerConfig{SubmitRefreshDelay: time.Millisecond})
	_, err := m.Submit(context.Background(), compileRequest())
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("submit refresh did not run")
	}

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the refresh was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestManager_Track(t *testing.T) {
	mc := &mockClient{}
	mc.On("GetJobStatus", mock.Anything, "abc123").
		Return(statusPayload("abc123", interfaces.StatusProcessing, 10), nil)

	push := newFakePush(connection.StateOpen)
	m := NewManager(mc, push, ManagerConfig{PollInterval: time.Hour})

	s, err := m.Track(context.Background(), "abc123", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusProcessing, s.Snapshot().Status)
	assert.True(t, push.subscribed("abc123"))

	_, err = m.Track(context.Background(), "abc123", SyncOptions{})
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	m.Close()
	assert.False(t, push.subscribed("abc123"))

	_, err = m.Track(context.Background(), "other", SyncOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}
