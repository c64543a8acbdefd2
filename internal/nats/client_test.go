package nats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/Job-Sync/internal/interfaces"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *mockConn) Close() {
	m.Called()
}

func TestClient_PublishJobCompletion(t *testing.T) {
	conn := new(mockConn)
	var published []byte
	conn.On("Publish", JobCompleteSubject, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).([]byte) }).
		Return(nil)

	c := NewClientWithConn(conn)
	completed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := c.PublishJobCompletion(interfaces.StatusCompleted, interfaces.JobResult{
		JobID:       "abc123",
		Success:     true,
		Result:      json.RawMessage(`{"pdf_url":"/files/abc123.pdf"}`),
		CompletedAt: completed,
	})

	require.NoError(t, err)
	conn.AssertExpectations(t)

	var msg JobStatusMessage
	require.NoError(t, json.Unmarshal(published, &msg))
	assert.Equal(t, "abc123", msg.JobID)
	assert.Equal(t, "completed", msg.Status)
	assert.True(t, msg.Success)
	assert.True(t, completed.Equal(msg.CompletedAt))
}

func TestClient_PublishJobSubmission(t *testing.T) {
	conn := new(mockConn)
	conn.On("Publish", JobSubmitSubject, mock.Anything).Return(nil)

	c := NewClientWithConn(conn)
	require.NoError(t, c.PublishJobSubmission(&JobSubmissionMessage{JobID: "abc123", Type: "latex_compilation", EstimatedTime: 30}))
	conn.AssertExpectations(t)
}

func TestClient_PublishErrorIsWrapped(t *testing.T) {
	conn := new(mockConn)
	conn.On("Publish", JobCompleteSubject, mock.Anything).Return(errors.New("nats: connection closed"))

	c := NewClientWithConn(conn)
	err := c.PublishJobCompletion(interfaces.StatusFailed, interfaces.JobResult{JobID: "abc123"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish to jobs.complete")
}

func TestClient_Close(t *testing.T) {
	conn := new(mockConn)
	conn.On("Close").Return()

	NewClientWithConn(conn).Close()
	conn.AssertExpectations(t)
}
