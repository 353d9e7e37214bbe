// Package events provides the in-process event bus the orchestrator
// publishes to and presentation layers subscribe to.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Options configures a Bus.
type Options struct {
	BufferSize int
	// Guaranteed lists event types that are never dropped. A subscriber
	// with a full buffer receives them once it catches up. Defaults to
	// tool_confirmation_required, which a turn blocks on.
	Guaranteed []core.EventType
	Logger     logging.Logger
}

type subscriber struct {
	ch    chan core.Event
	types map[core.EventType]bool

	// quit is closed on unsubscribe; late deliveries give up and are
	// awaited before ch is closed.
	quit    chan struct{}
	pending sync.WaitGroup
}

// Bus is a non-blocking fan-out of core.Event values. Events are
// fire-and-forget: a subscriber whose buffer is full misses the event,
// except for guaranteed types.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	bufferSize int
	guaranteed map[core.EventType]bool
	logger     logging.Logger
}

// NewBus creates an empty bus.
func NewBus(optFns ...func(o *Options)) *Bus {
	opts := Options{
		BufferSize: DefaultBufferSize,
		Guaranteed: []core.EventType{core.EventToolConfirmation},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	guaranteed := make(map[core.EventType]bool, len(opts.Guaranteed))
	for _, t := range opts.Guaranteed {
		guaranteed[t] = true
	}

	return &Bus{
		subs:       make(map[string]*subscriber),
		bufferSize: opts.BufferSize,
		guaranteed: guaranteed,
		logger:     opts.Logger,
	}
}

// Subscribe registers a subscriber for the given event types (all types when
// none are given). The returned channel is closed on Unsubscribe, on Close or
// when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, types ...core.EventType) (<-chan core.Event, string) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan core.Event, b.bufferSize), quit: make(chan struct{})}
	if len(types) > 0 {
		sub.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, id
	}
	b.subs[id] = sub
	b.mu.Unlock()

	b.logger.Debug("events.subscribe", "sub_id", id)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()

	return sub.ch, id
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev core.Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.guaranteed[ev.Type] {
				b.logger.Debug("events.deferred", "sub_id", id, "type", ev.Type, "event_id", ev.ID)
				sub.pending.Add(1)
				go sub.deliver(ev)
				continue
			}
			b.logger.Debug("events.dropped", "sub_id", id, "type", ev.Type, "event_id", ev.ID)
		}
	}
}

// deliver blocks until the subscriber has room for ev or goes away.
func (s *subscriber) deliver(ev core.Event) {
	defer s.pending.Done()
	select {
	case s.ch <- ev:
	case <-s.quit:
	}
}

// shutdown abandons late deliveries and closes the channel.
func (s *subscriber) shutdown() {
	close(s.quit)
	s.pending.Wait()
	close(s.ch)
}

// Unsubscribe removes a subscription and closes its channel. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.shutdown()

	b.logger.Debug("events.unsubscribe", "sub_id", id)
}

// Close closes every subscriber channel. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}
