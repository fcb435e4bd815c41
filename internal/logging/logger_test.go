package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Msg("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestSubAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("stream").With("conversation", "42")

	log.Info().Msg("fragment")
	output := buf.String()
	assert.Contains(t, output, `"subsystem":"stream"`)
	assert.Contains(t, output, `"conversation":"42"`)
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String(), "debug and info should be filtered at warn level")

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Info().Msg("should not appear")
	log.Error().Msg("should not appear")

	assert.Empty(t, buf.String())
}

func TestOpen_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "compass.log")

	log, closer, err := Open(Options{Level: "info", Style: "json", File: path})
	require.NoError(t, err)

	log.Info().Str("k", "v").Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestOpen_NoFile(t *testing.T) {
	log, closer, err := Open(Options{Level: "silent"})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, closer.Close())
}
