// Package agentrelay provides a high-level façade over the conversation
// orchestrator and its collaborators (agent registry, event bus, long-term
// memory and conversation persistence). Most applications interact with this
// package by:
//  1. Creating a Relay via New() (optionally overriding the in-memory stores)
//     or FromConfig()
//  2. Registering one or more agents
//  3. Subscribing to events and sending user turns (Send or Ask)
//
// All defaults are safe for local development and testing; production
// deployments typically supply durable stores, a real embedder and a
// structured logger.
package agentrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/events"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/orchestrator"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/session"
)

// Options configures the Relay instance.
type Options struct {
	// MaxToolRounds caps the model rounds of one turn.
	MaxToolRounds int
	// AutoApprove lists tools that never ask for confirmation.
	AutoApprove []string

	// EventBufferSize is the per-subscriber channel buffer.
	EventBufferSize int

	// Stores (default to in-memory implementations if not provided)
	ConversationStore core.ConversationStore
	VectorStore       memory.VectorStore
	// Embedder defaults to a 256 dimensional hash embedder.
	Embedder memory.Embedder

	// DisableMemory turns long-term memory off entirely.
	DisableMemory bool
	// MemoryOptions are applied to the memory store options.
	MemoryOptions []func(o *memory.Options)

	// Closers are closed by Close after the memory worker stopped, in order.
	Closers []io.Closer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Relay is the high-level façade aggregating the orchestrator and its
// services.
type Relay struct {
	opts         Options
	registry     *registry.Registry
	bus          *events.Bus
	memory       *memory.Store
	orchestrator *orchestrator.Orchestrator
}

// New creates a new Relay instance with optional overrides. Any unset store is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Relay {
	opts := Options{
		MaxToolRounds:     25,
		EventBufferSize:   256,
		ConversationStore: session.NewInMemoryStore(),
		VectorStore:       memory.NewInMemoryStore(),
		Embedder:          memory.NewHashEmbedder(256),
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	bus := events.NewBus(func(o *events.Options) {
		o.BufferSize = opts.EventBufferSize
		o.Logger = opts.Logger
	})

	reg := registry.New(func(o *registry.Options) { o.Logger = opts.Logger })

	r := &Relay{opts: opts, registry: reg, bus: bus}

	if !opts.DisableMemory {
		memFns := append([]func(o *memory.Options){
			func(o *memory.Options) { o.Logger = opts.Logger },
		}, opts.MemoryOptions...)
		memFns = append(memFns, func(o *memory.Options) { o.OnStored = r.consolidated(o.OnStored) })
		r.memory = memory.New(opts.VectorStore, opts.Embedder, memFns...)
	}

	r.orchestrator = orchestrator.New(reg, func(o *orchestrator.Options) {
		o.MaxToolRounds = opts.MaxToolRounds
		o.AutoApprove = opts.AutoApprove
		o.Store = opts.ConversationStore
		o.Bus = bus
		o.Logger = opts.Logger
		if r.memory != nil {
			o.Memory = r.memory
		}
	})

	return r
}

// consolidated publishes consolidation_completed after the worker stored an
// exchange, then calls next when set.
func (r *Relay) consolidated(next func(ids []string, ex memory.Exchange)) func(ids []string, ex memory.Exchange) {
	return func(ids []string, ex memory.Exchange) {
		ev := core.NewEvent(core.EventConsolidationCompleted, ex.Agent)
		ev.MemoryIDs = ids
		r.bus.Publish(ev)
		if next != nil {
			next(ids, ex)
		}
	}
}

// RegisterAgent adds an agent. The first registered agent becomes active.
func (r *Relay) RegisterAgent(ctx context.Context, a core.Agent) error {
	if err := r.registry.Register(a); err != nil {
		return err
	}
	if r.registry.Active() == nil {
		r.registry.Select(ctx, a.Name())
	}
	return nil
}

// Registry returns the agent registry.
func (r *Relay) Registry() *registry.Registry { return r.registry }

// Orchestrator returns the conversation orchestrator.
func (r *Relay) Orchestrator() *orchestrator.Orchestrator { return r.orchestrator }

// Bus returns the event bus.
func (r *Relay) Bus() *events.Bus { return r.bus }

// Memory returns the long-term memory store, nil when disabled.
func (r *Relay) Memory() *memory.Store { return r.memory }

// Conversations returns the conversation store.
func (r *Relay) Conversations() core.ConversationStore { return r.opts.ConversationStore }

// Send processes one user turn. Events are delivered to bus subscribers.
func (r *Relay) Send(ctx context.Context, in orchestrator.Input) error {
	return r.orchestrator.ProcessTurn(ctx, in)
}

// Ask is a synchronous helper that runs one text turn, collects the events it
// produced and returns the final response text.
//
// Confirmation requests are answered with decide; a nil decide denies every
// tool that is not auto-approved.
func (r *Relay) Ask(ctx context.Context, text string, decide func(core.Event) bool) (string, []core.Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, _ := r.bus.Subscribe(subCtx)
	done := make(chan []core.Event, 1)

	go func() {
		var collected []core.Event
		for ev := range ch {
			collected = append(collected, ev)
			if ev.Type == core.EventToolConfirmation {
				d := confirm.Deny
				if decide != nil && decide(ev) {
					d = confirm.Approve
				}
				r.orchestrator.Resolve(ev.RequestID, d)
			}
		}
		done <- collected
	}()

	err := r.orchestrator.ProcessTurn(ctx, orchestrator.Input{Text: text})

	// Published events stay buffered in ch after the subscription closes.
	cancel()
	collected := <-done

	var answer string
	for _, ev := range collected {
		if ev.Type == core.EventResponseCompleted && len(ev.ToolCalls) == 0 {
			answer = ev.Text
		}
	}
	return strings.TrimSpace(answer), collected, err
}

// Close stops the memory worker, then closes the configured closers and the
// event bus. All errors are joined.
func (r *Relay) Close() error {
	var errs []error
	if r.memory != nil {
		if err := r.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory: %w", err))
		}
	}
	for _, c := range r.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.bus.Close()
	return errors.Join(errs...)
}
