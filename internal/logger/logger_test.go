package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriter(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer

	InitWithWriter("job-sync-test", &buf)
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	WithJobID("abc123").Debug().Msg("tracked")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-sync-test", entry["service"])
	assert.Equal(t, "abc123", entry["job_id"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitWithWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	var buf bytes.Buffer

	InitWithWriter("job-sync-test", &buf)
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	WithConnectionID("c1").Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	WithCorrelationID("r1").Info().Msg("shown")
	assert.Contains(t, buf.String(), `"correlation_id":"r1"`)
}
