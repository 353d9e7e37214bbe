package orchestrator

import (
	"context"
	"sync"

	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/events"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/registry"
)

// Memory is the long-term memory the orchestrator consults before and feeds
// after each turn. *memory.Store implements it.
type Memory interface {
	NeedContext(ctx context.Context, input string) bool
	GenerateContext(ctx context.Context, input, agent string) (string, error)
	Store(ex memory.Exchange) []string
}

// Options configures an Orchestrator.
type Options struct {
	// MaxToolRounds caps the model rounds of one turn (0 = unlimited).
	MaxToolRounds int
	// AutoApprove pre-populates the approve-all whitelist.
	AutoApprove []string

	// Memory is optional.
	Memory Memory
	// Store is optional; without it conversations are not persisted.
	Store core.ConversationStore
	// Bus receives all events. A private bus is created when nil.
	Bus *events.Bus

	Logger logging.Logger
}

// Orchestrator drives user turns against the active agent of a registry.
//
// One turn runs at a time. Cancel, Resolve and the read accessors are safe to
// call from other goroutines while a turn is running.
type Orchestrator struct {
	registry *registry.Registry
	gate     *confirm.Gate
	allow    *confirm.Allowlist
	bus      *events.Bus
	memory   Memory
	store    core.ConversationStore
	logger   logging.Logger

	maxToolRounds int
	autoApprove   []string

	// turnMu serializes turns and history rewrites.
	turnMu sync.Mutex

	mu             sync.RWMutex
	log            []core.Message
	turns          []core.ConversationTurn
	conversationID string
	persisted      int
	// truncated is set when the log was cut below the persisted mark.
	truncated bool
	// rewound is the target of the last jump while no turn followed it.
	rewound *core.ConversationTurn
	cancel  context.CancelFunc
}

// New creates an orchestrator over reg.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxToolRounds: 25,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(func(o *events.Options) { o.Logger = opts.Logger })
	}

	return &Orchestrator{
		registry:      reg,
		gate:          confirm.NewGate(),
		allow:         confirm.NewAllowlist(opts.AutoApprove...),
		bus:           opts.Bus,
		memory:        opts.Memory,
		store:         opts.Store,
		logger:        logging.With(opts.Logger, "component", "orchestrator"),
		maxToolRounds: opts.MaxToolRounds,
		autoApprove:   append([]string(nil), opts.AutoApprove...),
	}
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Bus returns the event bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Subscribe is a shortcut for Bus().Subscribe.
func (o *Orchestrator) Subscribe(ctx context.Context, types ...core.EventType) (<-chan core.Event, string) {
	return o.bus.Subscribe(ctx, types...)
}

// History returns a copy of the conversation log across all agents.
func (o *Orchestrator) History() []core.Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return core.CloneMessages(o.log)
}

// Turns returns the rewind checkpoints of the conversation.
func (o *Orchestrator) Turns() []core.ConversationTurn {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]core.ConversationTurn(nil), o.turns...)
}

// ConversationID returns the persisted conversation id, empty until the
// first persisted message.
func (o *Orchestrator) ConversationID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.conversationID
}

// Pending lists outstanding confirmation requests.
func (o *Orchestrator) Pending() []confirm.Request {
	return o.gate.Pending()
}

// Resolve answers a confirmation request. Resolving an unknown or already
// resolved id is a no-op reported as false.
func (o *Orchestrator) Resolve(id uint64, d confirm.Decision) bool {
	ok := o.gate.Resolve(id, d)
	o.logger.Debug("orchestrator.confirm.resolve", "id", id, "decision", d.String(), "ok", ok)
	return ok
}

// AutoApproved lists the tools that currently skip confirmation.
func (o *Orchestrator) AutoApproved() []string {
	return o.allow.Names()
}

// Cancel aborts the running turn, if any. Pending confirmations are denied.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if n := o.gate.DenyAll(); n > 0 {
		o.logger.Info("orchestrator.confirm.denied_all", "count", n)
	}
}

// SelectAgent makes name the active agent. It fails with a usage error for
// unknown agents or while a turn is running.
func (o *Orchestrator) SelectAgent(ctx context.Context, name string) error {
	if !o.turnMu.TryLock() {
		return core.NewUsageError("select agent", core.ErrTurnInProgress)
	}
	defer o.turnMu.Unlock()

	from := ""
	if a := o.registry.Active(); a != nil {
		from = a.Name()
	}
	if !o.registry.Select(ctx, name) {
		return core.NewUsageError("select agent "+name, core.ErrUnknownAgent)
	}

	ev := core.NewEvent(core.EventAgentChanged, name)
	ev.From, ev.To = from, name
	o.publish(ev)
	return nil
}

// NewConversation clears the log, the checkpoints and every agent history.
// The next persisted message starts a new stored conversation.
func (o *Orchestrator) NewConversation(ctx context.Context) error {
	if !o.turnMu.TryLock() {
		return core.NewUsageError("new conversation", core.ErrTurnInProgress)
	}
	defer o.turnMu.Unlock()

	o.mu.Lock()
	o.log = nil
	o.turns = nil
	o.conversationID = ""
	o.persisted = 0
	o.truncated = false
	o.rewound = nil
	o.mu.Unlock()

	for _, a := range o.registry.Agents() {
		a.SetHistory(nil)
	}
	o.registry.ResetTransfers()
	o.allow.Reset(o.autoApprove...)

	o.logger.Info("orchestrator.conversation.new")
	return nil
}

// LoadConversation replaces the current conversation with a stored one and
// re-derives every agent history and checkpoint from its log.
func (o *Orchestrator) LoadConversation(ctx context.Context, id string) error {
	if o.store == nil {
		return core.NewUsageError("load conversation", core.ErrConversationNotFound)
	}
	if !o.turnMu.TryLock() {
		return core.NewUsageError("load conversation", core.ErrTurnInProgress)
	}
	defer o.turnMu.Unlock()

	msgs, err := o.store.History(ctx, id)
	if err != nil {
		return core.NewUsageError("load conversation "+id, err)
	}

	o.mu.Lock()
	o.log = msgs
	o.turns = deriveTurns(msgs)
	o.conversationID = id
	o.persisted = len(msgs)
	o.truncated = false
	o.rewound = nil
	o.mu.Unlock()

	active := ""
	if len(msgs) > 0 {
		active = msgs[len(msgs)-1].Agent
	}
	o.rebuildHistories(ctx, msgs, active)
	o.allow.Reset(o.autoApprove...)

	o.logger.Info("orchestrator.conversation.load", "id", id, "messages", len(msgs))
	return nil
}

// deriveTurns recovers checkpoints from turn markers in a persisted log.
func deriveTurns(msgs []core.Message) []core.ConversationTurn {
	var turns []core.ConversationTurn
	for i, m := range msgs {
		if m.Metadata[core.MetaTurn] == "" {
			continue
		}
		turns = append(turns, core.ConversationTurn{
			UserInputPreview: m.Metadata[core.MetaTurn],
			MessageIndex:     i,
			Agent:            m.Agent,
		})
	}
	return turns
}

// rebuildHistories splits log into per-agent histories, resets the shared
// context pools and selects active when it is a known agent.
func (o *Orchestrator) rebuildHistories(ctx context.Context, log []core.Message, active string) {
	per := make(map[string][]core.Message)
	for _, m := range log {
		per[m.Agent] = append(per[m.Agent], m.Clone())
	}
	for _, a := range o.registry.Agents() {
		a.SetHistory(per[a.Name()])
	}

	o.registry.ResetTransfers()

	if active != "" {
		o.registry.Select(ctx, active)
	}
}

func (o *Orchestrator) publish(ev core.Event) {
	o.bus.Publish(ev)
}

// appendLog appends msgs to the active agent's history and the global log.
func (o *Orchestrator) appendLog(a core.Agent, msgs ...core.Message) {
	if a != nil {
		a.Append(msgs...)
	}
	o.mu.Lock()
	o.log = append(o.log, msgs...)
	o.mu.Unlock()
}

// persist appends the not yet persisted tail of the log. After a truncation
// below the persisted mark the stored log is replaced. Failures are logged
// only.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	o.mu.RLock()
	id := o.conversationID
	o.mu.RUnlock()

	if id == "" {
		newID, err := o.store.StartConversation(ctx)
		if err != nil {
			o.logger.Error("orchestrator.persist.error", "error", err)
			return
		}
		o.mu.Lock()
		o.conversationID = newID
		o.mu.Unlock()
		id = newID
	}

	o.mu.RLock()
	replace := o.truncated
	var tail []core.Message
	if replace {
		tail = core.CloneMessages(o.log)
	} else {
		tail = core.CloneMessages(o.log[o.persisted:])
	}
	end := len(o.log)
	o.mu.RUnlock()

	if len(tail) == 0 && !replace {
		return
	}

	if err := o.store.AppendMessages(ctx, id, tail, replace); err != nil {
		o.logger.Error("orchestrator.persist.error", "conversation", id, "error", err)
		return
	}

	o.mu.Lock()
	o.persisted = end
	o.truncated = false
	o.mu.Unlock()

	o.logger.Debug("orchestrator.persist", "conversation", id, "messages", len(tail), "replace", replace)
}
