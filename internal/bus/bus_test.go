package bus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	b := NewEventBus()
	if b == nil {
		t.Fatal("NewEventBus returned nil")
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	b := NewEventBus()
	done := make(chan Event, 1)

	b.Subscribe(EventTypeSpeechStart, func(e Event) { done <- e })
	b.Publish(NewEvent(EventTypeSpeechStart, map[string]any{"source": "test"}))

	select {
	case e := <-done:
		if e.Data["source"] != "test" {
			t.Errorf("expected source=test, got %v", e.Data["source"])
		}
		if e.Timestamp.IsZero() {
			t.Error("expected event timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishSync_WaitsForHandlers(t *testing.T) {
	b := NewEventBus()
	var calls atomic.Int32

	b.SubscribeMultiple([]EventType{EventTypeSpeechStart, EventTypeSpeechEnd}, func(Event) {
		calls.Add(1)
	})
	b.SubscribeAll(func(Event) { calls.Add(1) })

	b.PublishSync(Event{Type: EventTypeSpeechEnd})
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 handler calls, got %d", got)
	}

	b.PublishSync(Event{Type: EventTypeAvatarStateChanged})
	if got := calls.Load(); got != 3 {
		t.Errorf("expected catch-all handler to run, got %d calls", got)
	}
}

func TestClear(t *testing.T) {
	b := NewEventBus()
	var calls atomic.Int32
	b.Subscribe(EventTypeExpressionChanged, func(Event) { calls.Add(1) })
	b.SubscribeAll(func(Event) { calls.Add(1) })

	b.Clear()
	b.PublishSync(Event{Type: EventTypeExpressionChanged})

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no calls after Clear, got %d", got)
	}
}
