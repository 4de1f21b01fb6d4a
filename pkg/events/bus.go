package events

import (
	"context"
	"sync"
)

// DefaultBufferSize bounds the bus channel. Producers block when the
// consumer falls this far behind, which back-pressures the engine rather
// than growing memory without limit.
const DefaultBufferSize = 100

// Bus fans events from concurrent producers into one ordered stream.
// Publish is safe from multiple goroutines; events from a single producer
// keep their relative order. Close is idempotent and publishes after close
// are dropped.
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus with the default buffer.
func NewBus() *Bus {
	return NewBusSize(DefaultBufferSize)
}

// NewBusSize creates a bus with an explicit buffer size.
func NewBusSize(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish delivers one event, blocking when the buffer is full. Returns
// false when the bus is closed or the context is cancelled.
func (b *Bus) Publish(ctx context.Context, ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	// A cancelled producer stops emitting even when buffer space is free.
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case b.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryPublish delivers ev only when buffer space is free, never blocking.
// Used for terminal events after the session context is gone.
func (b *Bus) TryPublish(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the consumer side of the stream. The channel closes after
// Close once in-flight publishes drain.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close seals the bus. Pending publishes finish, then the events channel
// closes. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.ch)
}

// Publisher narrows the bus for components that only emit.
type Publisher interface {
	Publish(ctx context.Context, ev Event) bool
}

// TaggedPublisher wraps a publisher so every event carries a task id,
// letting parallel task executors share one bus.
type TaggedPublisher struct {
	inner  Publisher
	taskID string
}

// NewTaggedPublisher wraps pub so events gain taskID when untagged.
func NewTaggedPublisher(pub Publisher, taskID string) *TaggedPublisher {
	return &TaggedPublisher{inner: pub, taskID: taskID}
}

// Publish implements Publisher.
func (t *TaggedPublisher) Publish(ctx context.Context, ev Event) bool {
	if _, ok := ev.Payload["taskId"]; !ok && t.taskID != "" {
		tagged := make(map[string]any, len(ev.Payload)+1)
		for k, v := range ev.Payload {
			tagged[k] = v
		}
		tagged["taskId"] = t.taskID
		ev.Payload = tagged
	}
	return t.inner.Publish(ctx, ev)
}

// NopPublisher discards events; useful when no consumer is attached.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) bool { return true }
