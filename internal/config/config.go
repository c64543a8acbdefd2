// Package config loads runtime settings for the job-sync binaries from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is shared by cmd/server and cmd/watch. Each binary reads the
// fields it cares about.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Client  ClientConfig
	Backend BackendConfig

	// NATS completion publishing
	UseNATS bool   `env:"USE_NATS" envDefault:"false"`
	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// MetricsAddr enables a /metrics listener for the CLI when non-empty.
	MetricsAddr string `env:"METRICS_ADDR"`
}

// ClientConfig drives the connection manager, synchronizers and facade.
type ClientConfig struct {
	APIURL string `env:"JOBSYNC_API_URL" envDefault:"http://localhost:8000/api/v1"`
	// WSURL defaults to APIURL with the scheme swapped to ws/wss.
	WSURL string `env:"JOBSYNC_WS_URL"`

	ReconnectDelay    time.Duration `env:"JOBSYNC_RECONNECT_DELAY" envDefault:"3s"`
	HeartbeatInterval time.Duration `env:"JOBSYNC_HEARTBEAT_INTERVAL" envDefault:"30s"`
	PollInterval      time.Duration `env:"JOBSYNC_POLL_INTERVAL" envDefault:"2s"`
	ListInterval      time.Duration `env:"JOBSYNC_LIST_INTERVAL" envDefault:"10s"`
	HealthInterval    time.Duration `env:"JOBSYNC_HEALTH_INTERVAL" envDefault:"30s"`

	RateLimit float64 `env:"JOBSYNC_RATE_LIMIT" envDefault:"10"`
	RateBurst int     `env:"JOBSYNC_RATE_BURST" envDefault:"20"`
}

// BackendConfig configures the in-memory development backend.
type BackendConfig struct {
	Port        string        `env:"PORT" envDefault:"8000"`
	WorkerCount int           `env:"WORKER_COUNT" envDefault:"3"`
	StepDelay   time.Duration `env:"WORKER_STEP_DELAY" envDefault:"1s"`
	PollPeriod  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"200ms"`
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Client.Sanitize()
	c.Backend.Sanitize()
}

func (c *ClientConfig) Sanitize() {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.WSURL == "" {
		c.WSURL = WebsocketURL(c.APIURL)
	}
	c.WSURL = strings.TrimRight(c.WSURL, "/")

	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ListInterval <= 0 {
		c.ListInterval = 10 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}
}

func (c *BackendConfig) Sanitize() {
	if c.Port == "" {
		c.Port = "8000"
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	if c.StepDelay < 0 {
		c.StepDelay = 0
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = 200 * time.Millisecond
	}
}

// WebsocketURL derives the push endpoint base from an HTTP API base.
func WebsocketURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}
