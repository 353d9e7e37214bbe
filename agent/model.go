package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description string
	Instruction Instruction
	Tools       []tool.Tool
	// ThinkingBudget enables extended reasoning on models that support it.
	ThinkingBudget int64
	Logger         logging.Logger
}

// ModelAgent is the local agent variant: it owns a model connection and a
// set of tools.
//
// ModelAgent embeds BaseAgent for identity, history and activation hooks.
type ModelAgent struct {
	BaseAgent

	llm            model.Model
	instruction    Instruction
	thinkingBudget int64
	logger         logging.Logger

	mu       sync.RWMutex
	tools    map[string]tool.Tool
	transfer func() string
}

// NewModelAgent creates a new model-based agent with sensible defaults.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Description: fmt.Sprintf("Agent %s", name),
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		BaseAgent:      NewBaseAgent(name, opts.Description),
		llm:            llm,
		instruction:    opts.Instruction,
		thinkingBudget: opts.ThinkingBudget,
		logger:         logging.With(opts.Logger, "agent", name),
		tools:          make(map[string]tool.Tool),
	}
	a.RegisterTools(opts.Tools...)

	return a
}

// RegisterTool adds a tool to the agent's capability set. The transfer
// directive is reserved and silently ignored.
func (a *ModelAgent) RegisterTool(t tool.Tool) {
	if t.Name() == tool.TransferToolName {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tools[t.Name()] = t
}

// RegisterTools adds multiple tools to the agent's capability set.
func (a *ModelAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// UnregisterTool removes a tool from the agent's capability set.
//
// Returns true if the tool was found and removed, false if it wasn't registered.
func (a *ModelAgent) UnregisterTool(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tools[name]; exists {
		delete(a.tools, name)
		return true
	}
	return false
}

// GetTool retrieves a specific tool by name.
func (a *ModelAgent) GetTool(name string) (tool.Tool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, exists := a.tools[name]
	return t, exists
}

// ToolNames returns the sorted names of all registered tools.
func (a *ModelAgent) ToolNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BindTransfer implements core.TransferAware. Once bound, the peer listing is
// appended to the instructions and the transfer tool is offered to the model
// whenever there is at least one peer.
func (a *ModelAgent) BindTransfer(prompt func() string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transfer = prompt
}

// Model returns the underlying model.
func (a *ModelAgent) Model() model.Model { return a.llm }

// ResolveInstructions produces the final system prompt.
func (a *ModelAgent) ResolveInstructions(ctx context.Context) (string, error) {
	return a.resolveInstructions(ctx, a.peers())
}

func (a *ModelAgent) peers() string {
	a.mu.RLock()
	transfer := a.transfer
	a.mu.RUnlock()
	if transfer == nil {
		return ""
	}
	return transfer()
}

func (a *ModelAgent) resolveInstructions(ctx context.Context, peers string) (string, error) {
	text, err := a.instruction.Resolve(ctx, map[string]any{
		"name":        a.Name(),
		"description": a.Description(),
		"tools":       a.ToolNames(),
		"peers":       peers,
	})
	if err != nil {
		return "", err
	}

	if peers != "" && !strings.Contains(text, peers) {
		text = strings.TrimRight(text, "\n") + "\n\n" + peers
	}
	return text, nil
}

func (a *ModelAgent) toolDefinitions(withTransfer bool) []model.ToolDefinition {
	a.mu.RLock()
	tools := make([]tool.Tool, 0, len(a.tools)+1)
	for _, name := range a.sortedNamesLocked() {
		tools = append(tools, a.tools[name])
	}
	a.mu.RUnlock()

	if withTransfer {
		tools = append(tools, tool.NewTransferTool())
	}

	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		}
	}
	return defs
}

func (a *ModelAgent) sortedNamesLocked() []string {
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stream starts a model call over history. Cancelling ctx or closing the
// returned stream aborts the call.
func (a *ModelAgent) Stream(ctx context.Context, history []core.Message) (core.Stream, error) {
	peers := a.peers()
	instructions, err := a.resolveInstructions(ctx, peers)
	if err != nil {
		return nil, fmt.Errorf("resolve instructions: %w", err)
	}

	req := model.Request{
		Instructions:   instructions,
		Messages:       history,
		Tools:          a.toolDefinitions(strings.TrimSpace(peers) != ""),
		Stream:         true,
		ThinkingBudget: a.thinkingBudget,
	}

	a.logger.Debug("agent.stream.start", "messages", len(history), "tools", len(req.Tools))

	callCtx, cancel := context.WithCancel(ctx)
	respCh, errCh := a.llm.Generate(callCtx, req)

	return &modelStream{cancel: cancel, respCh: respCh, errCh: errCh}, nil
}

// ExecuteTool runs a registered tool. Failures are returned as *tool.ToolError.
func (a *ModelAgent) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := a.GetTool(name)
	if !ok {
		return "", tool.NewToolError(name, fmt.Sprintf("tool %s not found", name), tool.CodeNotFound)
	}
	return tool.Execute(ctx, t, args, a.logger)
}

// modelStream adapts a model.Model response channel to core.Stream.
type modelStream struct {
	cancel context.CancelFunc
	respCh <-chan model.Response
	errCh  <-chan error

	cur     core.StreamChunk
	text    strings.Builder
	reason  bool
	final   *model.Response
	err     error
	done    bool
	flushed bool

	closeOnce sync.Once
}

func (s *modelStream) Next() bool {
	if s.done {
		return false
	}

	for r := range s.respCh {
		if !r.Partial {
			rr := r
			s.final = &rr
			continue
		}
		if r.Delta == "" && r.Reasoning == nil {
			continue
		}
		if r.Reasoning != nil {
			s.reason = true
		}
		s.text.WriteString(r.Delta)
		s.cur = core.StreamChunk{Text: s.text.String(), Delta: r.Delta, Reasoning: r.Reasoning}
		return true
	}

	if err := <-s.errCh; err != nil {
		s.err = err
		s.done = true
		return false
	}

	// Models answering without partials still surface their text as one chunk.
	if s.final != nil && !s.flushed {
		s.flushed = true
		if s.text.Len() == 0 {
			chunk, ok := s.chunkFromFinal()
			if ok {
				s.cur = chunk
				return true
			}
		}
	}

	s.done = true
	return false
}

func (s *modelStream) chunkFromFinal() (core.StreamChunk, bool) {
	var (
		text      = s.final.Message.Text()
		reasoning *core.ReasoningDelta
	)
	if !s.reason {
		for _, p := range s.final.Message.Parts {
			if tp, ok := p.(core.ThinkingPart); ok {
				reasoning = &core.ReasoningDelta{Delta: tp.Text, Signature: tp.Signature}
				break
			}
		}
	}
	if text == "" && reasoning == nil {
		return core.StreamChunk{}, false
	}
	s.text.WriteString(text)
	return core.StreamChunk{Text: text, Delta: text, Reasoning: reasoning}, true
}

func (s *modelStream) Current() core.StreamChunk { return s.cur }

func (s *modelStream) Err() error { return s.err }

func (s *modelStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			for range s.respCh {
			}
		}()
	})
	return nil
}

func (s *modelStream) Result() core.StreamResult {
	if s.final == nil {
		return core.StreamResult{}
	}

	res := core.StreamResult{ToolCalls: s.final.Message.FunctionCalls()}
	if u := s.final.Usage; u != nil {
		res.InputTokens = u.PromptTokens
		res.OutputTokens = u.CompletionTokens
	}
	return res
}

var (
	_ core.Agent         = (*ModelAgent)(nil)
	_ core.TransferAware = (*ModelAgent)(nil)
	_ core.Stream        = (*modelStream)(nil)
)
