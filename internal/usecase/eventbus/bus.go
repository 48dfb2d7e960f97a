package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"searchchat/internal/domain"
)

// anyType keys subscriptions that receive every event.
const anyType domain.EventType = ""

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run
// asynchronously; a panicking handler is logged and does not affect others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish delivers event to handlers subscribed to its type and to
// catch-all handlers. Handlers get a context that outlives the publisher's
// cancellation but keeps its values.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[anyType]))
	targets = append(targets, b.subs[event.Type]...)
	if event.Type != anyType {
		targets = append(targets, b.subs[anyType]...)
	}
	b.mu.RUnlock()

	hctx := context.WithoutCancel(ctx)
	for _, sub := range targets {
		b.wg.Add(1)
		go b.run(hctx, event, sub)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, sub subscription) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[key]
		for i, s := range subs {
			if s.id == id {
				b.subs[key] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting events and waits for in-flight handlers.
// It is safe to call more than once.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// LogEvents subscribes a debug logger to every event on bus.
func LogEvents(bus domain.EventBus, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		attrs := []any{"event", string(e.Type)}
		if e.SessionID != "" {
			attrs = append(attrs, "session_id", e.SessionID)
		}
		if len(e.Payload) > 0 {
			attrs = append(attrs, "payload", string(e.Payload))
		}
		logger.DebugContext(ctx, "event", attrs...)
	})
}

var _ domain.EventBus = (*Bus)(nil)
