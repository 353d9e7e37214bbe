package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// MockTurn scripts one Generate call of a MockModel.
type MockTurn struct {
	Text      string
	Reasoning string
	Signature string
	ToolCalls []core.FunctionCall
	// Err fails the call after any scripted chunks were emitted.
	Err error
	// Hold, when set, pauses the stream after the first text chunk until it
	// is closed or the context is cancelled.
	Hold <-chan struct{}
	Usage *TokenUsage
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Scripted turns are consumed in order; afterwards canned responses registered
// with AddResponse (or an echo) are returned.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	script    []MockTurn
	responses map[string]string
	requests  []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for an exact last user input.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script appends scripted turns.
func (m *MockModel) Script(turns ...MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.script) > 0 {
		t := m.script[0]
		m.script = m.script[1:]
		return t
	}

	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			input = req.Messages[i].Text()
			break
		}
	}
	if r, ok := m.responses[input]; ok {
		return MockTurn{Text: r}
	}
	return MockTurn{Text: fmt.Sprintf("Mock response to: %s", input)}
}

// Generate implements Model. Reasoning and text are streamed word by word.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		send := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case respCh <- r:
				return true
			}
		}

		for _, w := range chunks(turn.Reasoning) {
			if !send(Response{Partial: true, Reasoning: &core.ReasoningDelta{Delta: w}}) {
				return
			}
		}
		if turn.Signature != "" {
			if !send(Response{Partial: true, Reasoning: &core.ReasoningDelta{Signature: turn.Signature}}) {
				return
			}
		}

		for i, w := range chunks(turn.Text) {
			if !send(Response{Partial: true, Delta: w}) {
				return
			}
			if i == 0 && turn.Hold != nil {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-turn.Hold:
				}
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		msg := core.FormatMessage("", core.KindAssistant, core.MessagePayload{
			Text:      turn.Text,
			Thinking:  turn.Reasoning,
			Signature: turn.Signature,
			ToolCalls: turn.ToolCalls,
		})
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		send(Response{Message: msg, FinishReason: finish, Usage: turn.Usage})
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// chunks splits s into word chunks that concatenate back to s.
func chunks(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
