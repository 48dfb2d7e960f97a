package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"searchchat/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventTurnStarted, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventTurnStarted {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventTurnStarted))
	bus.Publish(context.Background(), newEvent(domain.EventTurnCompleted))
	bus.Close()
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventSessionStarted))
	bus.Publish(context.Background(), newEvent(domain.EventToolCallStarted))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventTurnFailed, func(_ context.Context, _ domain.Event) { got.Add(1) })
	unsubAll := bus.SubscribeAll(func(_ context.Context, _ domain.Event) { got.Add(1) })
	unsub()
	unsubAll()

	bus.Publish(context.Background(), newEvent(domain.EventTurnFailed))
	bus.Close()
	if got.Load() != 0 {
		t.Fatalf("expected 0 after unsubscribe, got %d", got.Load())
	}
}

func TestPanickingHandlerIsolated(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventStateTrimmed, func(context.Context, domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventStateTrimmed, func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventStateTrimmed))
	bus.Close()
	if got.Load() != 1 {
		t.Fatalf("healthy handler should still run, got %d", got.Load())
	}
}

func TestHandlerContextSurvivesCancel(t *testing.T) {
	bus := newTestBus()

	done := make(chan error, 1)
	bus.Subscribe(domain.EventTurnCompleted, func(ctx context.Context, _ domain.Event) {
		done <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, newEvent(domain.EventTurnCompleted))
	bus.Close()

	if err := <-done; err != nil {
		t.Fatalf("handler context should not be cancelled, got %v", err)
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := newTestBus()
	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	bus.Close()
	bus.Close()
	bus.Publish(context.Background(), newEvent(domain.EventSessionEnded))

	if got.Load() != 0 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bus := newTestBus()
	LogEvents(bus, logger)

	payload, _ := json.Marshal(domain.StateTrimmedPayload{ThreadID: "t1", Removed: 2})
	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventStateTrimmed,
		SessionID: "s1",
		Payload:   payload,
	})
	bus.Close()

	out := buf.String()
	for _, want := range []string{"event=state.trimmed", "session_id=s1", "removed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
