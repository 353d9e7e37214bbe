package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages(t *testing.T) {
	history := []core.Message{
		core.NewTextMessage(core.RoleSystem, "", "be brief"),
		core.NewTextMessage(core.RoleUser, "a", "read it"),
		core.FormatMessage("a", core.KindAssistant, core.MessagePayload{
			Thinking: "unsigned",
			ToolCalls: []core.FunctionCall{
				{ID: "tu_1", Name: "read_file", Arguments: `{"path":"x.txt"}`},
			},
		}),
		core.FormatMessage("a", core.KindToolResult, core.MessagePayload{
			Result: &core.FunctionResponse{ID: "tu_1", Name: "read_file", Response: "content"},
		}),
		core.NewTextMessage(core.RoleUser, "a", "thanks"),
	}

	messages, system := buildMessages(history)

	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].Text)

	// user, assistant, user(tool_result + text)
	require.Len(t, messages, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, messages[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, messages[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, messages[2].Role)

	require.Len(t, messages[1].Content, 1, "unsigned thinking is dropped")
	require.NotNil(t, messages[1].Content[0].OfToolUse)
	assert.Equal(t, "tu_1", messages[1].Content[0].OfToolUse.ID)
	assert.Equal(t, map[string]any{"path": "x.txt"}, messages[1].Content[0].OfToolUse.Input)

	require.Len(t, messages[2].Content, 2)
	require.NotNil(t, messages[2].Content[0].OfToolResult)
	assert.Equal(t, "tu_1", messages[2].Content[0].OfToolResult.ToolUseID)
	require.NotNil(t, messages[2].Content[1].OfText)
	assert.Equal(t, "thanks", messages[2].Content[1].OfText.Text)
}

func TestAssistantBlocksKeepsSignedThinking(t *testing.T) {
	msg := core.FormatMessage("a", core.KindAssistant, core.MessagePayload{
		Thinking:  "considering",
		Signature: "sig",
		Text:      "answer",
	})

	blocks := assistantBlocks(msg.Parts)
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[0].OfThinking)
	assert.Equal(t, "sig", blocks[0].OfThinking.Signature)
	assert.Equal(t, "considering", blocks[0].OfThinking.Thinking)
	require.NotNil(t, blocks[1].OfText)
}

func TestUserBlocksFiles(t *testing.T) {
	msg := core.FormatMessage("a", core.KindFileContent, core.MessagePayload{
		File: &core.FilePartFile{Name: "cat.png", MimeType: "image/png", Bytes: "aGVsbG8="},
	})
	blocks := userBlocks(msg.Parts)
	require.Len(t, blocks, 1)
	assert.NotNil(t, blocks[0].OfImage)

	doc := core.FormatMessage("a", core.KindFileContent, core.MessagePayload{
		File: &core.FilePartFile{Name: "notes.pdf", MimeType: "application/pdf", URI: "file:///notes.pdf"},
	})
	blocks = userBlocks(doc.Parts)
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].OfText)
	assert.Contains(t, blocks[0].OfText.Text, "notes.pdf")
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
		},
	}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "read_file", tools[0].OfTool.Name)
	assert.Equal(t, "Read a file", tools[0].OfTool.Description.Value)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
}

func TestBuildParams(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.MaxTokens = 1000 })

	t.Run("plain", func(t *testing.T) {
		params := m.buildParams(model.Request{
			Instructions: "you are helpful",
			Messages:     []core.Message{core.NewTextMessage(core.RoleUser, "", "hi")},
		})
		require.Len(t, params.System, 1)
		assert.Equal(t, "you are helpful", params.System[0].Text)
		assert.True(t, params.Temperature.Valid())
		assert.Nil(t, params.Thinking.OfEnabled)
		assert.EqualValues(t, 1000, params.MaxTokens)
	})

	t.Run("thinking", func(t *testing.T) {
		params := m.buildParams(model.Request{
			Messages:       []core.Message{core.NewTextMessage(core.RoleUser, "", "hi")},
			ThinkingBudget: 2048,
		})
		require.NotNil(t, params.Thinking.OfEnabled)
		assert.EqualValues(t, 2048, params.Thinking.OfEnabled.BudgetTokens)
		assert.False(t, params.Temperature.Valid())
		assert.Greater(t, params.MaxTokens, int64(2048))
	})
}

func TestFinalResponse(t *testing.T) {
	raw := `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5-20250929",
		"content": [
			{"type": "thinking", "thinking": "hmm", "signature": "sig"},
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": {"path": "a.txt"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`

	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	resp := finalResponse(&msg)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.False(t, resp.Partial)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	require.Len(t, resp.Message.Parts, 3)
	thinking, ok := resp.Message.Parts[0].(core.ThinkingPart)
	require.True(t, ok)
	assert.Equal(t, "sig", thinking.Signature)
	assert.Equal(t, "Let me look.", resp.Message.Text())

	calls := resp.Message.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, calls[0].Arguments)
}

func TestInfo(t *testing.T) {
	m := NewModelFromClient(nil)
	info := m.Info()
	assert.Equal(t, "anthropic", info.Provider)
	assert.True(t, info.SupportsTools)
}
