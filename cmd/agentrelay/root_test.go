package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

const testConfig = `
logging:
  level: error
memory:
  enabled: true
persistence:
  driver: sqlite
  path: {{dir}}/conversations.db
vector_store:
  driver: sqlite
  path: {{dir}}/memories.db
agents:
  - name: general
    description: answers everything
    provider: mock
    tools: [current_time]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(testConfig, "{{dir}}", dir)), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "", "conversations", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no conversations")

	out, err = execute(t, "hello\n", "chat", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: hello")

	out, err = execute(t, "", "conversations", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "hello")

	out, err = execute(t, "", "memory", "cleanup", "--months", "1", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 memories older than 1 months")

	out, err = execute(t, "", "memory", "forget", "hello", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `about "hello" for general`)

	_, err = execute(t, "", "conversations", "delete", "missing", "--config", path)
	require.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestCommands_ConfigFromEnv(t *testing.T) {
	t.Setenv(configEnv, writeConfig(t))

	out, err := execute(t, "/agents\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "* general")
	assert.Contains(t, out, "tools: current_time")
}

func TestCommands_BadConfig(t *testing.T) {
	_, err := execute(t, "", "conversations", "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
