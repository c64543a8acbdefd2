package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
)

const DefaultBaseURL = "http://localhost:8000/api/v1"

// Client talks to the job service REST endpoints.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces outbound requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient builds a client rooted at baseURL, e.g. http://host:8000/api/v1.
// No request timeout is set; callers bound requests through their context.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the root all requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// CreateJob submits a job and returns the service's acknowledgement.
func (c *Client) CreateJob(ctx context.Context, req interfaces.SubmitRequest) (*interfaces.SubmitResponse, error) {
	var resp interfaces.SubmitResponse
	if err := c.do(ctx, "create job", http.MethodPost, "/jobs/submit", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("create job: response carried no job id")
	}
	return &resp, nil
}

// GetJobStatus pulls the current status of a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (interfaces.StatusPayload, error) {
	var p interfaces.StatusPayload
	err := c.do(ctx, "get job status", http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, nil, &p)
	if err == nil && p.JobID == "" {
		p.JobID = jobID
	}
	return p, err
}

// GetJobResult fetches the final outcome of a terminal job.
func (c *Client) GetJobResult(ctx context.Context, jobID string) (interfaces.JobResult, error) {
	var p interfaces.ResultPayload
	if err := c.do(ctx, "get job result", http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/result", nil, nil, &p); err != nil {
		return interfaces.JobResult{}, err
	}
	if p.JobID == "" {
		p.JobID = jobID
	}
	return p.JobResult(), nil
}

// CancelJob asks the service to cancel a job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (interfaces.CancelPayload, error) {
	var p interfaces.CancelPayload
	err := c.do(ctx, "cancel job", http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil, &p)
	return p, err
}

// ListJobs returns one page of jobs.
func (c *Client) ListJobs(ctx context.Context, limit, offset int) (interfaces.JobList, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var p interfaces.ListPayload
	if err := c.do(ctx, "list jobs", http.MethodGet, "/jobs/", q, nil, &p); err != nil {
		return interfaces.JobList{}, err
	}
	return p.JobList(), nil
}

// SystemHealth returns the aggregate health snapshot of the job service.
func (c *Client) SystemHealth(ctx context.Context) (interfaces.SystemHealth, error) {
	var p interfaces.HealthPayload
	if err := c.do(ctx, "system health", http.MethodGet, "/jobs/system/health", nil, nil, &p); err != nil {
		return interfaces.SystemHealth{}, err
	}
	return p.SystemHealth(), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.APIRequestsTotal.WithLabelValues(op, outcome).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	correlationID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := logger.WithCorrelationID(correlationID)
	log.Debug().Str("method", method).Str("url", u.String()).Msg("Sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := newRequestError(op, resp.StatusCode, data)
		log.Debug().Int("status", resp.StatusCode).Str("detail", reqErr.Detail).Msg("Request rejected")
		return reqErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
