package agentrelay

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/tool"
)

func TestRelay_AskPublishesConsolidation(t *testing.T) {
	r := New()
	t.Cleanup(func() { _ = r.Close() })

	a, _ := testutil.NewScriptedAgent("assistant", "helper", nil, model.MockTurn{Text: "Go is a great choice."})
	require.NoError(t, r.RegisterAgent(t.Context(), a))
	assert.Equal(t, "assistant", r.Registry().Active().Name())

	consolidated, _ := r.Bus().Subscribe(t.Context(), core.EventConsolidationCompleted)

	answer, evs, err := r.Ask(t.Context(), "which language should I use?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Go is a great choice.", answer)
	assert.NotEmpty(t, evs)
	assert.Equal(t, core.EventUserMessageCreated, evs[0].Type)

	select {
	case ev := <-consolidated:
		assert.Equal(t, "assistant", ev.Agent)
		assert.NotEmpty(t, ev.MemoryIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no consolidation_completed event")
	}

	recs, err := r.opts.VectorStore.All(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, recs)

	summaries, err := r.Conversations().List(t.Context())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].MessageCount)
}

func TestRelay_AskDeniesByDefault(t *testing.T) {
	r := New(func(o *Options) { o.DisableMemory = true })
	t.Cleanup(func() { _ = r.Close() })
	assert.Nil(t, r.Memory())

	var ran atomic.Bool
	danger := tool.NewFunctionTool("drop_table", "Drop a table", nil, func(context.Context, map[string]any) (any, error) {
		ran.Store(true)
		return "dropped", nil
	})
	a, _ := testutil.NewScriptedAgent("dba", "database admin", []tool.Tool{danger},
		model.MockTurn{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "drop_table", Arguments: `{}`}}},
		model.MockTurn{Text: "Okay, nothing dropped."},
	)
	require.NoError(t, r.RegisterAgent(t.Context(), a))

	answer, evs, err := r.Ask(t.Context(), "drop users", nil)
	require.NoError(t, err)
	assert.Equal(t, "Okay, nothing dropped.", answer)
	assert.False(t, ran.Load())

	var denied int
	for _, ev := range evs {
		if ev.Type == core.EventToolDenied {
			denied++
		}
	}
	assert.Equal(t, 1, denied)
}

func TestRelay_MemoryOptionsKeepCallerHook(t *testing.T) {
	stored := make(chan memory.Exchange, 1)
	r := New(func(o *Options) {
		o.MemoryOptions = append(o.MemoryOptions, func(mo *memory.Options) {
			mo.OnStored = func(_ []string, ex memory.Exchange) { stored <- ex }
		})
	})
	t.Cleanup(func() { _ = r.Close() })

	a, _ := testutil.NewScriptedAgent("assistant", "helper", nil, model.MockTurn{Text: "hi"})
	require.NoError(t, r.RegisterAgent(t.Context(), a))
	require.NoError(t, r.Send(t.Context(), orchestrator.Input{Text: "hello"}))

	select {
	case ex := <-stored:
		assert.Equal(t, "hello", ex.User)
	case <-time.After(2 * time.Second):
		t.Fatal("hook not called")
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Workspace = dir
	cfg.Persistence = config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "conversations.db")}
	cfg.VectorStore = config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "memories.db")}
	cfg.Memory.RetentionMonths = 12
	cfg.Agents = []config.AgentConfig{
		{Name: "general", Provider: config.ProviderMock},
		{Name: "clock", Provider: config.ProviderMock, Tools: []string{"current_time"}},
	}
	cfg.ActiveAgent = "clock"

	r, err := FromConfig(t.Context(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "clock", r.Registry().Active().Name())
	clock, ok := r.Registry().Get("clock")
	require.True(t, ok)
	assert.Equal(t, []string{"current_time"}, clock.ToolNames())
	general, _ := r.Registry().Get("general")
	assert.Len(t, general.ToolNames(), 5)

	answer, _, err := r.Ask(t.Context(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", answer)

	id := r.Orchestrator().ConversationID()
	require.NoError(t, r.Close())

	// The conversation survives a restart.
	r2, err := FromConfig(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r2.Close() })

	require.NoError(t, r2.Orchestrator().LoadConversation(t.Context(), id))
	assert.Len(t, r2.Orchestrator().History(), 2)
	assert.Len(t, r2.Orchestrator().Turns(), 1)
}

func TestFromConfig_UnknownTool(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.Agents = []config.AgentConfig{{Name: "a", Provider: config.ProviderMock, Tools: []string{"teleport"}}}

	_, err := FromConfig(t.Context(), cfg)
	require.ErrorIs(t, err, core.ErrUnknownTool)
}
