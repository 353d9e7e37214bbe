package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONRespectsLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LogLevelWarn, Format: "json", Output: &buf, Component: "memory"})

	l.Info("memory.enqueue", "id", "x")
	assert.Zero(t, buf.Len())

	l.Warn("memory.enqueue.dropped", "id", "x")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "memory.enqueue.dropped", rec["msg"])
	assert.Equal(t, "memory", rec["component"])
	assert.Equal(t, "x", rec["id"])
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l := With(New(Config{Format: "json", Output: &buf}), "agent", "planner")
	l.Info("hello")
	assert.Contains(t, buf.String(), `"agent":"planner"`)

	assert.Equal(t, NoOpLogger{}, With(NoOpLogger{}, "k", "v"))
}

func TestLogToolCall(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "text", Output: &buf})

	LogToolCall(l, "read_file", 5*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "tool.call.success")

	buf.Reset()
	LogToolCall(l, "read_file", time.Millisecond, errors.New("boom"))
	assert.Contains(t, buf.String(), "tool.call.error")
	assert.Contains(t, buf.String(), "boom")
}
