package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, tools []tool.Tool, name string) tool.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestWorkspace_FileLifecycle(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools := ws.Tools()
	ctx := context.Background()

	_, err = find(t, tools, WriteFile).Call(ctx, map[string]any{"path": "notes/a.txt", "content": "hello"})
	require.NoError(t, err)

	out, err := find(t, tools, ReadFile).Call(ctx, map[string]any{"path": "notes/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = find(t, tools, ListFiles).Call(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "notes/a.txt", out)

	_, err = find(t, tools, DeleteFile).Call(ctx, map[string]any{"path": "notes/a.txt"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.Root(), "notes", "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_ConfinesPaths(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(root)
	require.NoError(t, err)

	resolved, err := ws.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "etc", "passwd"), resolved)
}

func TestWorkspace_DeleteMissingFails(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	_, err = find(t, ws.Tools(), DeleteFile).Call(context.Background(), map[string]any{"path": "nope.txt"})
	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tool.CodeExecution, te.Code)
}

func TestWorkspace_CurrentTime(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ws.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	out, err := find(t, ws.Tools(), CurrentTime).Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T03:04:05Z", out)
}
