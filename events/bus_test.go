package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func receive(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return core.Event{}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))

	assert.Equal(t, core.EventResponseChunk, receive(t, ch1).Type)
	assert.Equal(t, core.EventResponseChunk, receive(t, ch2).Type)
}

func TestBus_TypeFilter(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), core.EventError)

	b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))
	b.Publish(core.NewEvent(core.EventError, "coder"))

	assert.Equal(t, core.EventError, receive(t, ch).Type)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := NewBus(func(o *Options) { o.BufferSize = 2 })
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for i := 0; i < 5; i++ {
		b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))
	}

	assert.Len(t, ch, 2)
}

func TestBus_GuaranteedSurvivesFullBuffer(t *testing.T) {
	b := NewBus(func(o *Options) { o.BufferSize = 2 })
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for i := 0; i < 5; i++ {
		b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))
	}
	req := core.NewEvent(core.EventToolConfirmation, "coder")
	req.RequestID = 7
	b.Publish(req)

	assert.Equal(t, core.EventResponseChunk, receive(t, ch).Type)
	assert.Equal(t, core.EventResponseChunk, receive(t, ch).Type)
	ev := receive(t, ch)
	assert.Equal(t, core.EventToolConfirmation, ev.Type)
	assert.Equal(t, uint64(7), ev.RequestID)
}

func TestBus_UnsubscribeAbandonsDeferredDelivery(t *testing.T) {
	b := NewBus(func(o *Options) { o.BufferSize = 1 })
	defer b.Close()

	ch, id := b.Subscribe(t.Context())
	b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))
	b.Publish(core.NewEvent(core.EventToolConfirmation, "coder"))

	done := make(chan struct{})
	go func() {
		b.Unsubscribe(id)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe blocked on a deferred delivery")
	}

	var types []core.EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	assert.NotEmpty(t, types)
	assert.Equal(t, core.EventResponseChunk, types[0])
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(core.NewEvent(core.EventResponseChunk, "coder"))
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(t.Context())
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context())
	_, ok = <-late
	assert.False(t, ok)

	b.Publish(core.NewEvent(core.EventError, ""))
}

func TestBus_ConcurrentPublishUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		_, id := b.Subscribe(t.Context())
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(core.NewEvent(core.EventResponseChunk, ""))
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe(id)
		}()
	}
	wg.Wait()
}
