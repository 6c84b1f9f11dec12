// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

const (
	// Expression events
	EventTypeExpressionChanged EventType = "expression.changed"
	EventTypeFrameDropped      EventType = "expression.frame_dropped"

	// Telemetry events
	EventTypeEmotionEmitted   EventType = "telemetry.emitted"
	EventTypeEmotionThrottled EventType = "telemetry.throttled"

	// Sentiment events
	EventTypeTextSubmitted    EventType = "sentiment.submitted"
	EventTypeSentimentOutcome EventType = "sentiment.outcome"

	// Speech events
	EventTypeSpeechStart EventType = "speech.start"
	EventTypeSpeechEnd   EventType = "speech.end"

	// Avatar events
	EventTypeAvatarStateChanged EventType = "avatar.state_changed"
)

// Event represents a bus event
type Event struct {
	Type      EventType
	Data      map[string]any
	Timestamp time.Time
}

// NewEvent creates an event stamped with the current time
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler that receives every event
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

func (b *EventBus) handlersFor(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.all...)
	return handlers
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, handler := range b.handlersFor(event.Type) {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	var wg sync.WaitGroup
	for _, handler := range b.handlersFor(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
