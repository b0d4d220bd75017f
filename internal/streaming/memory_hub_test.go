package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func assertNoEvent(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		TraceID:   "trace-1",
		EventType: EventCall,
		Caller:    "main",
		Callee:    "load_data",
		Detail:    `load_data("data.csv")`,
	}
	require.NoError(t, hub.Publish(ctx, event))

	assert.Equal(t, event, receive(t, ch))
}

func TestFilterByTraceID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{TraceID: "trace-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "trace-1", EventType: EventCall}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "trace-2", EventType: EventCall}))

	assert.Equal(t, "trace-1", receive(t, ch).TraceID)
	assertNoEvent(t, ch)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{EventCall, EventRaise},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "t", EventType: EventCall}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "t", EventType: EventReturn}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "t", EventType: EventRaise}))

	received := []string{receive(t, ch).EventType, receive(t, ch).EventType}
	assert.Equal(t, []string{EventCall, EventRaise}, received)
	assertNoEvent(t, ch)
}

func TestFilterByCallee(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{Callee: "parse_row"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: EventCall, Callee: "load_data"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: EventCall, Callee: "parse_row"}))

	assert.Equal(t, "parse_row", receive(t, ch).Callee)
	assertNoEvent(t, ch)
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	assert.Equal(t, 2, hub.Subscribers())
	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "trace-1", EventType: EventReturn}))

	for _, ch := range []<-chan StreamEvent{ch1, ch2} {
		got := receive(t, ch)
		assert.Equal(t, "trace-1", got.TraceID)
		assert.Equal(t, EventReturn, got.EventType)
	}
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "trace-1", EventType: EventCall}))

	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")
	assert.Equal(t, 0, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub(WithBuffer(8))
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// None of these should block.
	for i := 0; i < 8+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{TraceID: "trace-1", EventType: EventRepeat, Count: i}))
	}

	drained := 0
	for len(ch) > 0 {
		<-ch
		drained++
	}
	assert.Equal(t, 8, drained)
	assert.Equal(t, uint64(10), hub.Dropped())
}

func TestDefaultBuffer(t *testing.T) {
	assert.Equal(t, defaultChannelBuffer, NewMemoryHub().buffer)
	assert.Equal(t, defaultChannelBuffer, NewMemoryHub(WithBuffer(0)).buffer)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	cancels := make([]func(), goroutines)
	for i := 0; i < goroutines; i++ {
		_, cancel, err := hub.Subscribe(ctx, EventFilter{})
		require.NoError(t, err)
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = hub.Publish(ctx, StreamEvent{TraceID: "trace-concurrent", EventType: EventCall})
			}
		}()
	}

	// Subscribers come and go while publishers run.
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, StreamEvent{TraceID: "trace-1", EventType: EventCall})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
