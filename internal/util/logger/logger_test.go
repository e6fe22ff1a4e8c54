package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONEncoding(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Encoding: "json"}, &buf)

	l.Infof("lead captured for %s", "pitch")
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "lead captured for pitch", entry["msg"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Encoding: "console"}, &buf)

	l.Infof("hidden")
	l.Warnf("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestGetLoggerInitialisesDefault(t *testing.T) {
	mu.Lock()
	globalLogger = nil
	mu.Unlock()

	assert.NotNil(t, GetLogger())
}
