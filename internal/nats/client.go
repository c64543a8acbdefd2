package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/Job-Sync/internal/interfaces"
)

const (
	JobSubmitSubject   = "jobs.submit"
	JobCompleteSubject = "jobs.complete"
)

// Conn is the part of *nats.Conn the client publishes through.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type Client struct {
	conn Conn
}

func NewClient(url string) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("job-sync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// NewClientWithConn wraps an existing connection.
func NewClientWithConn(conn Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) PublishJobSubmission(msg *JobSubmissionMessage) error {
	return c.publish(JobSubmitSubject, msg)
}

// PublishJobCompletion announces a terminal job result.
func (c *Client) PublishJobCompletion(status interfaces.JobStatus, res interfaces.JobResult) error {
	return c.publish(JobCompleteSubject, &JobStatusMessage{
		JobID:       res.JobID,
		Status:      string(status),
		Success:     res.Success,
		Result:      res.Result,
		Error:       res.Error,
		CompletedAt: res.CompletedAt,
	})
}

func (c *Client) publish(subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", subject, err)
	}

	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
