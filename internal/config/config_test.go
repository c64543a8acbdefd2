package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}))
	cfg.Sanitize()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.Client.APIURL)
	assert.Equal(t, "ws://localhost:8000/api/v1", cfg.Client.WSURL)
	assert.Equal(t, 3*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Client.ListInterval)
	assert.Equal(t, 30*time.Second, cfg.Client.HealthInterval)
	assert.Equal(t, 10.0, cfg.Client.RateLimit)
	assert.Equal(t, 20, cfg.Client.RateBurst)
	assert.Equal(t, "8000", cfg.Backend.Port)
	assert.False(t, cfg.UseNATS)
}

func TestOverrides(t *testing.T) {
	var cfg Config
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{
		"LOG_LEVEL":             " DEBUG ",
		"JOBSYNC_API_URL":       "https://jobs.example.com/api/v1/",
		"JOBSYNC_POLL_INTERVAL": "500ms",
		"USE_NATS":              "true",
		"WORKER_COUNT":          "0",
	}}))
	cfg.Sanitize()

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://jobs.example.com/api/v1", cfg.Client.APIURL)
	assert.Equal(t, "wss://jobs.example.com/api/v1", cfg.Client.WSURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.PollInterval)
	assert.True(t, cfg.UseNATS)
	assert.Equal(t, 1, cfg.Backend.WorkerCount)
}

func TestExplicitWebsocketURLWins(t *testing.T) {
	c := ClientConfig{APIURL: "http://a/api/v1", WSURL: "ws://b/push/"}
	c.Sanitize()
	assert.Equal(t, "ws://b/push", c.WSURL)
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8000/api/v1", "ws://localhost:8000/api/v1"},
		{"https://host/api", "wss://host/api"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WebsocketURL(tt.in))
	}
}
