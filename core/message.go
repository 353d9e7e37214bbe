package core

import (
	"encoding/json"
	"strings"
)

// Role identifies the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one immutable entry of a conversation log. Its index within the
// log (or within an agent history) is its identity.
type Message struct {
	Role  Role
	Parts []Part
	// Agent names the agent whose history the message belongs to.
	Agent    string
	Metadata map[string]string
}

// Metadata keys set by the orchestrator and registry.
const (
	MetaKind = "kind"
	// MetaTurn marks the first message of a user turn.
	MetaTurn = "turn"

	KindMemoryContext = "memory_context"
	KindTransfer      = "transfer"
	KindTransferNote  = "transfer_note"
	KindTransferError = "transfer_error"
)

// NewTextMessage builds a single text part message.
func NewTextMessage(role Role, agent, text string) Message {
	return Message{Role: role, Agent: agent, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// Kind returns the metadata kind marker, if any.
func (m Message) Kind() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[MetaKind]
}

// FunctionCalls returns the tool calls carried by the message in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// HasFiles reports whether the message carries non-text attachments.
func (m Message) HasFiles() bool {
	for _, p := range m.Parts {
		if _, ok := p.(FilePart); ok {
			return true
		}
	}
	return false
}

// Render produces a human-readable rendering used for transfer snippets and
// memory summaries. Tool calls and results are rendered inline.
func (m Message) Render() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			sb.WriteString(v.Text)
		case FunctionCallPart:
			sb.WriteString("[call " + v.FunctionCall.Name + " " + v.FunctionCall.Arguments + "]")
		case FunctionResponsePart:
			sb.WriteString("[result " + v.FunctionResponse.Name + ": " + v.FunctionResponse.Response + "]")
		}
	}
	return sb.String()
}

// Clone returns a deep-enough copy: the part slice and metadata map are
// duplicated, part values are immutable.
func (m Message) Clone() Message {
	c := m
	c.Parts = append([]Part(nil), m.Parts...)
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// CloneMessages copies a message slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

type wireMessage struct {
	Role     Role              `json:"role"`
	Agent    string            `json:"agent,omitempty"`
	Parts    []wirePart        `json:"parts"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON encodes the message with a type discriminator per part.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, Agent: m.Agent, Metadata: m.Metadata, Parts: make([]wirePart, 0, len(m.Parts))}
	for _, p := range m.Parts {
		wp, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		w.Parts = append(w.Parts, wp)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	parts := make([]Part, 0, len(w.Parts))
	for _, wp := range w.Parts {
		p, err := decodePart(wp)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}

	*m = Message{Role: w.Role, Agent: w.Agent, Parts: parts, Metadata: w.Metadata}
	return nil
}
