// Package registry owns the set of agents, the single active agent and the
// transfer protocol that hands control (and selected context) between them.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// TransferRecord describes one completed transfer.
type TransferRecord struct {
	From string `json:"from"`
	To   string `json:"to"`
	Task string `json:"task"`
	// RelevantData holds the rendered snippets forwarded as text.
	RelevantData []string `json:"relevant_data,omitempty"`
	NextAction   string   `json:"next_action,omitempty"`
	// Shared lists the source indices forwarded by this transfer.
	Shared []int `json:"shared,omitempty"`
	// Messages were appended to the target's history: the instruction
	// followed by any directly injected non-text messages.
	Messages  []core.Message `json:"messages"`
	Timestamp time.Time      `json:"timestamp"`
}

// Options configures a Registry.
type Options struct {
	Logger logging.Logger
}

// Registry is an explicitly constructed agent registry. It is safe for
// concurrent use; agent hooks run outside its lock.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]core.Agent
	order     []string
	active    string
	transfers []TransferRecord

	logger logging.Logger
}

// New creates an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		agents: make(map[string]core.Agent),
		logger: opts.Logger,
	}
}

// Register adds an agent. Transfer-aware agents get the peer listing bound.
func (r *Registry) Register(a core.Agent) error {
	r.mu.Lock()
	if _, exists := r.agents[a.Name()]; exists {
		r.mu.Unlock()
		return core.NewUsageError("register "+a.Name(), core.ErrDuplicateAgent)
	}
	r.agents[a.Name()] = a
	r.order = append(r.order, a.Name())
	r.mu.Unlock()

	if ta, ok := a.(core.TransferAware); ok {
		name := a.Name()
		ta.BindTransfer(func() string { return r.TransferPrompt(name) })
	}

	r.logger.Debug("registry.register", "agent", a.Name())
	return nil
}

// Deregister removes an agent, deactivating it first when it is active.
func (r *Registry) Deregister(ctx context.Context, name string) bool {
	r.mu.Lock()
	a, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	wasActive := r.active == name
	if wasActive {
		r.active = ""
	}
	r.mu.Unlock()

	if wasActive {
		if err := a.Deactivate(ctx); err != nil {
			r.logger.Warn("registry.deactivate.error", "agent", name, "error", err)
		}
	}

	r.logger.Debug("registry.deregister", "agent", name)
	return true
}

// Get returns the named agent.
func (r *Registry) Get(name string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Agents returns all agents in registration order.
func (r *Registry) Agents() []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Agent, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.agents[n])
	}
	return out
}

// Active returns the active agent or nil.
func (r *Registry) Active() core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil
	}
	return r.agents[r.active]
}

// Select makes name the active agent. The previously active agent is
// deactivated first. Hook failures are logged, not returned. Select reports
// false for unknown agents and leaves the active pointer untouched.
func (r *Registry) Select(ctx context.Context, name string) bool {
	r.mu.Lock()
	next, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if r.active == name {
		r.mu.Unlock()
		return true
	}
	prev := r.agents[r.active]
	r.active = name
	r.mu.Unlock()

	if prev != nil {
		if err := prev.Deactivate(ctx); err != nil {
			r.logger.Warn("registry.deactivate.error", "agent", prev.Name(), "error", err)
		}
	}
	if err := next.Activate(ctx); err != nil {
		r.logger.Warn("registry.activate.error", "agent", name, "error", err)
	}

	r.logger.Info("registry.select", "agent", name)
	return true
}

// Transfer hands control from the active agent to target.
//
// Every index of relevant that exists in the source history and was not yet
// forwarded to target is rendered into the instruction message (text) or
// queued for verbatim injection (files) and marked as shared. The target is
// then selected and the instruction plus injected messages are appended to
// its history.
//
// Unknown targets and self transfers return a *core.UsageError and leave the
// registry unchanged.
func (r *Registry) Transfer(ctx context.Context, target, task string, relevant []int, nextAction string) (TransferRecord, error) {
	op := "transfer to " + target

	source := r.Active()
	if source == nil {
		return TransferRecord{}, core.NewUsageError(op, core.ErrNoActiveAgent)
	}
	dest, ok := r.Get(target)
	if !ok {
		return TransferRecord{}, core.NewUsageError(op, core.ErrUnknownAgent)
	}
	if dest.Name() == source.Name() {
		return TransferRecord{}, core.NewUsageError(op, core.ErrSelfTransfer)
	}

	rec := TransferRecord{
		From:       source.Name(),
		To:         target,
		Task:       task,
		NextAction: nextAction,
		Timestamp:  time.Now().UTC(),
	}

	history := source.History()
	pool := source.SharedContext()

	var injected []core.Message
	for _, idx := range relevant {
		if idx < 0 || idx >= len(history) {
			continue
		}
		if !pool.Mark(target, idx) {
			continue
		}
		rec.Shared = append(rec.Shared, idx)

		msg := history[idx]
		if msg.HasFiles() {
			m := msg.Clone()
			m.Agent = target
			if m.Metadata == nil {
				m.Metadata = map[string]string{}
			}
			m.Metadata[core.MetaKind] = core.KindTransferNote
			injected = append(injected, m)
			continue
		}
		if text := strings.TrimSpace(msg.Render()); text != "" {
			rec.RelevantData = append(rec.RelevantData, fmt.Sprintf("[%d] %s: %s", idx, msg.Role, text))
		}
	}

	instruction := core.NewTextMessage(core.RoleUser, target, transferInstruction(rec))
	instruction.Metadata = map[string]string{core.MetaKind: core.KindTransfer, "from": rec.From}

	r.Select(ctx, target)

	rec.Messages = append([]core.Message{instruction}, injected...)
	dest.Append(rec.Messages...)

	r.mu.Lock()
	r.transfers = append(r.transfers, rec)
	r.mu.Unlock()

	r.logger.Info("registry.transfer", "from", rec.From, "to", rec.To, "shared", len(rec.Shared), "injected", len(injected))
	return rec, nil
}

func transferInstruction(rec TransferRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transferred from %s.\nTask: %s\n", rec.From, rec.Task)
	if len(rec.RelevantData) > 0 {
		sb.WriteString("\nRelevant context:\n")
		for _, s := range rec.RelevantData {
			sb.WriteString(s)
			sb.WriteByte('\n')
		}
	}
	if rec.NextAction != "" {
		fmt.Fprintf(&sb, "\nNext action: %s\n", rec.NextAction)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TransferPrompt lists every registered agent except exclude, for inclusion
// in exclude's instructions. It is empty when there are no peers.
func (r *Registry) TransferPrompt(exclude string) string {
	var peers []core.Agent
	for _, a := range r.Agents() {
		if a.Name() != exclude {
			peers = append(peers, a)
		}
	}
	if len(peers) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You can hand the conversation to one of these agents with the transfer tool ")
	sb.WriteString("when it is better suited for the next step:\n")
	for _, a := range peers {
		fmt.Fprintf(&sb, "- %s: %s", a.Name(), a.Description())
		if tools := a.ToolNames(); len(tools) > 0 {
			fmt.Fprintf(&sb, " (tools: %s)", strings.Join(tools, ", "))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TransferHistory returns the transfers performed so far.
func (r *Registry) TransferHistory() []TransferRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TransferRecord(nil), r.transfers...)
}

// ResetTransfers clears the transfer log and every agent's shared context
// pool. Used when the conversation log is rewound or replaced.
func (r *Registry) ResetTransfers() {
	for _, a := range r.Agents() {
		a.SharedContext().Reset()
	}
	r.mu.Lock()
	r.transfers = nil
	r.mu.Unlock()
}
