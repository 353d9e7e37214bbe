package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// syncBuffer is written by the session and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRelay(t *testing.T, agents ...core.Agent) *agentrelay.Relay {
	t.Helper()
	r := agentrelay.New(func(o *agentrelay.Options) { o.DisableMemory = true })
	t.Cleanup(func() { _ = r.Close() })
	for _, a := range agents {
		require.NoError(t, r.RegisterAgent(context.Background(), a))
	}
	return r
}

func TestChatSession_Turn(t *testing.T) {
	a, _ := testutil.NewScriptedAgent("helper", "general help", nil, model.MockTurn{Text: "Hi there, friend!"})
	r := newTestRelay(t, a)

	out := &syncBuffer{}
	s := newChatSession(r, strings.NewReader("hello\n/turns\n"), out)
	require.NoError(t, s.run(t.Context()))

	text := out.String()
	assert.Contains(t, text, "Hi there, friend!")
	assert.Contains(t, text, "hello")
	require.Len(t, r.Orchestrator().Turns(), 1)
}

func TestChatSession_DenyConfirmation(t *testing.T) {
	var deleted atomic.Bool
	del := tool.NewFunctionTool("delete_file", "Delete a file", nil, func(context.Context, map[string]any) (any, error) {
		deleted.Store(true)
		return "deleted", nil
	})
	a, _ := testutil.NewScriptedAgent("ops", "operations", []tool.Tool{del},
		model.MockTurn{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "delete_file", Arguments: `{"path":"db.sqlite"}`}}},
		model.MockTurn{Text: "Fine, I kept it."},
	)
	r := newTestRelay(t, a)

	out := &syncBuffer{}
	s := newChatSession(r, strings.NewReader("remove the database\nmaybe\nn\n"), out)
	require.NoError(t, s.run(t.Context()))

	assert.False(t, deleted.Load())
	text := out.String()
	assert.Contains(t, text, "Allow ops to run delete_file?")
	assert.Contains(t, text, "answer y, a or n")
	assert.Contains(t, text, "delete_file denied")
	assert.Contains(t, text, "Fine, I kept it.")
}

func TestChatSession_EOFDeniesOpenConfirmation(t *testing.T) {
	var deleted atomic.Bool
	del := tool.NewFunctionTool("delete_file", "Delete a file", nil, func(context.Context, map[string]any) (any, error) {
		deleted.Store(true)
		return "deleted", nil
	})
	a, _ := testutil.NewScriptedAgent("ops", "operations", []tool.Tool{del},
		model.MockTurn{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "delete_file", Arguments: `{}`}}},
	)
	r := newTestRelay(t, a)

	s := newChatSession(r, strings.NewReader("clean up\n"), &syncBuffer{})
	require.NoError(t, s.run(t.Context()))
	assert.False(t, deleted.Load())
}

func TestChatSession_Commands(t *testing.T) {
	a, _ := testutil.NewScriptedAgent("alpha", "first agent", nil)
	b, _ := testutil.NewScriptedAgent("beta", "second agent", nil)
	r := newTestRelay(t, a, b)

	out := &syncBuffer{}
	input := strings.Join([]string{
		"/help",
		"/agents",
		"/agent beta",
		"/agent",
		"/turns",
		"/jump 3",
		"/jump x",
		"/bogus",
		"/quit",
		"this line is never sent",
	}, "\n")
	s := newChatSession(r, strings.NewReader(input), out)
	require.NoError(t, s.run(t.Context()))

	text := out.String()
	assert.Contains(t, text, "/jump N")
	assert.Contains(t, text, "* alpha")
	assert.Contains(t, text, "usage: /agent NAME")
	assert.Contains(t, text, "no turns yet")
	assert.Contains(t, text, "invalid turn")
	assert.Contains(t, text, "usage: /jump N")
	assert.Contains(t, text, "unknown command /bogus")

	assert.Equal(t, "beta", r.Registry().Active().Name())
	assert.Empty(t, r.Orchestrator().History())
}

func TestFormatInput(t *testing.T) {
	assert.Empty(t, formatInput(nil))
	assert.Equal(t, "a=1 b=two", formatInput(map[string]any{"b": "two", "a": 1}))
	assert.Equal(t, "ab…", truncate("abc", 2))
}
