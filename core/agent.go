package core

import "context"

// Agent is the capability contract the orchestrator drives. Local agents own
// a model connection; remote agents delegate over the network. The core only
// ever talks to this interface.
//
// History is exclusively mutated by the orchestrator while the agent is
// active. Implementations need not be safe for concurrent history mutation.
type Agent interface {
	Name() string
	Description() string
	// ToolNames lists the tools the agent can execute, excluding the transfer directive.
	ToolNames() []string

	History() []Message
	SetHistory(msgs []Message)
	Append(msgs ...Message)

	// SharedContext tracks which history indices were already forwarded to
	// which transfer target.
	SharedContext() *ContextPool

	// Stream starts a new model call over history. The returned Stream stops
	// early when ctx is cancelled or Close is called.
	Stream(ctx context.Context, history []Message) (Stream, error)

	// ExecuteTool runs a named tool and returns its textual result.
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)

	FormatMessage(kind MessageKind, payload MessagePayload) Message

	// Activate and Deactivate are invoked on selection changes.
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// TransferAware is implemented by agents that want the registry to describe
// their peers in their instructions and to expose the transfer tool.
type TransferAware interface {
	BindTransfer(prompt func() string)
}

// MessageKind selects the shape produced by Agent.FormatMessage.
type MessageKind int

const (
	KindUserText MessageKind = iota
	KindAssistant
	KindToolResult
	KindThinking
	KindFileContent
)

// MessagePayload is the input to Agent.FormatMessage. Only the fields relevant
// to the requested kind are read.
type MessagePayload struct {
	Text      string
	Thinking  string
	Signature string
	ToolCalls []FunctionCall
	Result    *FunctionResponse
	File      *FilePartFile
}

// FormatMessage is the default Agent.FormatMessage implementation shared by
// agent variants.
func FormatMessage(agent string, kind MessageKind, p MessagePayload) Message {
	switch kind {
	case KindAssistant:
		msg := Message{Role: RoleAssistant, Agent: agent}
		if p.Thinking != "" || p.Signature != "" {
			msg.Parts = append(msg.Parts, ThinkingPart{Text: p.Thinking, Signature: p.Signature})
		}
		if p.Text != "" {
			msg.Parts = append(msg.Parts, TextPart{Text: p.Text})
		}
		for _, fc := range p.ToolCalls {
			msg.Parts = append(msg.Parts, FunctionCallPart{FunctionCall: fc})
		}
		return msg
	case KindToolResult:
		msg := Message{Role: RoleTool, Agent: agent}
		if p.Result != nil {
			msg.Parts = []Part{FunctionResponsePart{FunctionResponse: *p.Result}}
		}
		return msg
	case KindThinking:
		return Message{Role: RoleAssistant, Agent: agent, Parts: []Part{ThinkingPart{Text: p.Thinking, Signature: p.Signature}}}
	case KindFileContent:
		msg := Message{Role: RoleUser, Agent: agent}
		if p.File != nil {
			msg.Parts = append(msg.Parts, FilePart{File: *p.File})
		}
		if p.Text != "" {
			msg.Parts = append(msg.Parts, TextPart{Text: p.Text})
		}
		return msg
	default:
		return NewTextMessage(RoleUser, agent, p.Text)
	}
}

// Stream is a pull-based view over one in-flight model call.
//
//	for s.Next() {
//	    chunk := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
//	res := s.Result()
type Stream interface {
	Next() bool
	Current() StreamChunk
	Err() error
	// Close aborts the call and releases its resources. Safe to call twice.
	Close() error
	// Result is valid once Next has returned false without error.
	Result() StreamResult
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	Text      string // accumulated text so far
	Delta     string
	Reasoning *ReasoningDelta
}

// ReasoningDelta is an increment of model reasoning text.
type ReasoningDelta struct {
	Delta     string
	Signature string
}

// StreamResult summarizes a finished stream.
type StreamResult struct {
	ToolCalls    []FunctionCall
	InputTokens  int
	OutputTokens int
}
