package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewJSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "", false)
	logger.Info("sandbox created", "sandbox_id", "sbx_1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sandbox created", rec["msg"])
	assert.Equal(t, "sbx_1", rec["sandbox_id"])
}

func TestNewTextInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "", true)
	logger.Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}
