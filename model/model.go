package model

import (
	"context"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
	// ThinkingBudget enables extended reasoning when > 0 and supported.
	ThinkingBudget int64 `json:"thinking_budget,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial increment or the final assembled output of a call.
//
// Partial responses carry Delta and/or Reasoning. Exactly one final response
// (Partial == false) is emitted per successful call; its Message holds the
// complete assistant message including tool calls.
type Response struct {
	ID           string               `json:"id"`
	Partial      bool                 `json:"partial"`
	Delta        string               `json:"delta,omitempty"`
	Reasoning    *core.ReasoningDelta `json:"reasoning,omitempty"`
	Message      core.Message         `json:"message"`
	FinishReason string               `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage          `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
//
// Generate returns immediately. The response channel is closed when the call
// ends; at most one error is sent on the error channel, which is closed
// afterwards. Implementations must stop promptly when ctx is cancelled.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Complete drains a Generate call and returns the final message. Useful for
// auxiliary prompts (summaries, filters) that do not stream to a user.
func Complete(ctx context.Context, m Model, req Request) (core.Message, error) {
	req.Stream = false
	respCh, errCh := m.Generate(ctx, req)

	var (
		final core.Message
		text  strings.Builder
		done  bool
	)
	for r := range respCh {
		if r.Partial {
			text.WriteString(r.Delta)
			continue
		}
		final, done = r.Message, true
	}
	if err := <-errCh; err != nil {
		return core.Message{}, err
	}
	if !done {
		final = core.NewTextMessage(core.RoleAssistant, "", text.String())
	}
	return final, nil
}
