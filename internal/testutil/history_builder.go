package testutil

import (
	"github.com/hupe1980/agentrelay/core"
)

// HistoryBuilder provides a fluent helper for constructing agent histories.
// Example:
//
//	h := NewHistoryBuilder("coder").User("hi").Assistant("hello").Build()
type HistoryBuilder struct {
	agent string
	msgs  []core.Message
}

// NewHistoryBuilder creates a builder whose messages belong to agent.
func NewHistoryBuilder(agent string) *HistoryBuilder { return &HistoryBuilder{agent: agent} }

// User appends a user text message (chainable).
func (b *HistoryBuilder) User(text string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.NewTextMessage(core.RoleUser, b.agent, text))
	return b
}

// Assistant appends an assistant text message (chainable).
func (b *HistoryBuilder) Assistant(text string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.NewTextMessage(core.RoleAssistant, b.agent, text))
	return b
}

// ToolCall appends an assistant message carrying one tool call (chainable).
func (b *HistoryBuilder) ToolCall(id, name, args string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.FormatMessage(b.agent, core.KindAssistant, core.MessagePayload{
		ToolCalls: []core.FunctionCall{{ID: id, Name: name, Arguments: args}},
	}))
	return b
}

// ToolResult appends a tool result message (chainable).
func (b *HistoryBuilder) ToolResult(id, name, response string, isErr bool) *HistoryBuilder {
	b.msgs = append(b.msgs, core.FormatMessage(b.agent, core.KindToolResult, core.MessagePayload{
		Result: &core.FunctionResponse{ID: id, Name: name, Response: response, IsError: isErr},
	}))
	return b
}

// File appends a user message carrying a file attachment (chainable).
func (b *HistoryBuilder) File(name, mimeType, data string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.FormatMessage(b.agent, core.KindFileContent, core.MessagePayload{
		File: &core.FilePartFile{Name: name, MimeType: mimeType, Bytes: data},
	}))
	return b
}

// Build returns the accumulated messages.
func (b *HistoryBuilder) Build() []core.Message { return core.CloneMessages(b.msgs) }
