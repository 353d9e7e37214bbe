package agent

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// BaseAgent bundles identity, history and the shared context pool. Embed it
// in concrete agent implementations and supply Stream and ExecuteTool to
// satisfy core.Agent. All exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string

	mu      sync.Mutex
	history []core.Message
	active  bool

	pool *core.ContextPool

	onActivate   func(ctx context.Context) error
	onDeactivate func(ctx context.Context) error
}

// NewBaseAgent constructs a BaseAgent with an empty history.
func NewBaseAgent(name, description string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: description,
		pool:        core.NewContextPool(),
	}
}

// Name returns the agent's unique name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns what the agent is good at. Peers read it when deciding
// whether to transfer.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// History returns a copy of the agent's history.
func (b *BaseAgent) History() []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return core.CloneMessages(b.history)
}

// SetHistory replaces the history.
func (b *BaseAgent) SetHistory(msgs []core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = core.CloneMessages(msgs)
}

// Append adds messages to the end of the history.
func (b *BaseAgent) Append(msgs ...core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.history = append(b.history, m.Clone())
	}
}

// SharedContext returns the pool of indices already forwarded to peers.
func (b *BaseAgent) SharedContext() *core.ContextPool { return b.pool }

// FormatMessage builds a message attributed to this agent.
func (b *BaseAgent) FormatMessage(kind core.MessageKind, payload core.MessagePayload) core.Message {
	return core.FormatMessage(b.name, kind, payload)
}

// OnActivate installs a hook run when the agent becomes active.
func (b *BaseAgent) OnActivate(fn func(ctx context.Context) error) { b.onActivate = fn }

// OnDeactivate installs a hook run when the agent stops being active.
func (b *BaseAgent) OnDeactivate(fn func(ctx context.Context) error) { b.onDeactivate = fn }

// Activate marks the agent active and runs the activation hook.
func (b *BaseAgent) Activate(ctx context.Context) error {
	b.mu.Lock()
	b.active = true
	hook := b.onActivate
	b.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	return nil
}

// Deactivate marks the agent inactive and runs the deactivation hook.
func (b *BaseAgent) Deactivate(ctx context.Context) error {
	b.mu.Lock()
	b.active = false
	hook := b.onDeactivate
	b.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	return nil
}

// IsActive reports whether the agent is currently selected.
func (b *BaseAgent) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}
