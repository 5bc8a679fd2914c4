package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{input: "error", want: LogLevelError},
		{input: "warn", want: LogLevelWarn},
		{input: "info", want: LogLevelInfo},
		{input: "debug", want: LogLevelDebug},
		{input: "trace", want: LogLevelTrace},
		{input: "verbose", want: LogLevelError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, LogLevelInfo)

	logger.Debug("hidden %d", 1)
	logger.Info("room %s created", "k3m9pq")
	logger.Trace("hidden too")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "room k3m9pq created", entry["msg"])
}

func TestLogger_trace(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, LogLevelTrace)

	logger.Trace("frame %d", 7)

	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "trace", entry["level"])
	assert.Equal(t, "frame 7", entry["msg"])
}

func TestLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, LogLevelError)

	logger.Warn("dropped")
	assert.Empty(t, buf.String())

	logger.SetLevel(LogLevelWarn)
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
