package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conversations.db")

	s, err := New(path)
	require.NoError(t, err)

	id, err := s.StartConversation(ctx)
	require.NoError(t, err)

	msgs := []core.Message{
		core.NewTextMessage(core.RoleUser, "A", "delete the temp files"),
		core.FormatMessage("A", core.KindAssistant, core.MessagePayload{
			Text:      "Deleting.",
			ToolCalls: []core.FunctionCall{{ID: "call_1", Name: "delete_file", Arguments: `{"path":"tmp"}`}},
		}),
		core.FormatMessage("A", core.KindToolResult, core.MessagePayload{
			Result: &core.FunctionResponse{ID: "call_1", Name: "delete_file", Response: "Tool use denied by user", IsError: true},
		}),
	}
	require.NoError(t, s.AppendMessages(ctx, id, msgs[:1], false))
	require.NoError(t, s.AppendMessages(ctx, id, msgs[1:], false))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	hist, err := s.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "delete the temp files", hist[0].Text())
	require.Len(t, hist[1].FunctionCalls(), 1)
	assert.Equal(t, "delete_file", hist[1].FunctionCalls()[0].Name)
	assert.Equal(t, core.RoleTool, hist[2].Role)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "delete the temp files", list[0].Title)
	assert.Equal(t, 3, list[0].MessageCount)
	assert.False(t, list[0].Created.IsZero())
}

func TestStore_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	older, err := s.StartConversation(ctx)
	require.NoError(t, err)
	newer, err := s.StartConversation(ctx)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessages(ctx, newer, []core.Message{
		core.NewTextMessage(core.RoleUser, "A", "one"),
		core.NewTextMessage(core.RoleAssistant, "A", "two"),
		core.NewTextMessage(core.RoleUser, "A", "three"),
	}, false))
	require.NoError(t, s.AppendMessages(ctx, newer, []core.Message{
		core.NewTextMessage(core.RoleUser, "A", "rewound"),
	}, true))

	hist, err := s.History(ctx, newer)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "rewound", hist[0].Text())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0].ID)
	assert.Equal(t, "rewound", list[0].Title)
	assert.Equal(t, older, list[1].ID)

	ok, err := s.Delete(ctx, newer)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.History(ctx, newer)
	require.ErrorIs(t, err, core.ErrConversationNotFound)

	ok, err = s.Delete(ctx, newer)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.AppendMessages(ctx, "missing", nil, false)
	require.ErrorIs(t, err, core.ErrConversationNotFound)
}
