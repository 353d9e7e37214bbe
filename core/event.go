package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an externally observable milestone.
type EventType string

const (
	EventUserMessageCreated     EventType = "user_message_created"
	EventResponseChunk          EventType = "response_chunk"
	EventThinkingStarted        EventType = "thinking_started"
	EventThinkingChunk          EventType = "thinking_chunk"
	EventThinkingCompleted      EventType = "thinking_completed"
	EventResponseCompleted      EventType = "response_completed"
	EventToolUse                EventType = "tool_use"
	EventToolConfirmation       EventType = "tool_confirmation_required"
	EventToolResult             EventType = "tool_result"
	EventToolError              EventType = "tool_error"
	EventToolDenied             EventType = "tool_denied"
	EventAgentChanged           EventType = "agent_changed"
	EventAgentChangedByTransfer EventType = "agent_changed_by_transfer"
	EventJumpPerformed          EventType = "jump_performed"
	EventConsolidationCompleted EventType = "consolidation_completed"
	EventError                  EventType = "error"
)

// Event is published on the event bus. After publication it must be treated
// as immutable; subscribers receive the same value.
//
// Only the fields relevant to Type are populated.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"`

	Text      string `json:"text,omitempty"`  // accumulated response or thinking text
	Delta     string `json:"delta,omitempty"` // chunk increment
	Signature string `json:"signature,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolCalls  []FunctionCall `json:"tool_calls,omitempty"`
	Result     string         `json:"result,omitempty"`
	RequestID  uint64         `json:"request_id,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Turn int    `json:"turn,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	MemoryIDs []string `json:"memory_ids,omitempty"`

	Err     error     `json:"-"`
	History []Message `json:"history,omitempty"` // attached to error events
}

// NewEvent creates an event stamped with a fresh id and the current UTC time.
func NewEvent(typ EventType, agent string) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Agent:     agent,
	}
}

// NewID returns a new random identifier.
func NewID() string {
	return uuid.NewString()
}
