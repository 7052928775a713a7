// Package bus provides an in-process event bus for lifecycle notifications
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types published by the client
const (
	// Connection events
	EventTypeConnected          EventType = "connection.connected"
	EventTypeDisconnected       EventType = "connection.disconnected"
	EventTypeReconnectScheduled EventType = "connection.reconnect_scheduled"
	EventTypeFrameReceived      EventType = "connection.frame_received"
	EventTypeFrameDropped       EventType = "connection.frame_dropped"
	EventTypeSendDropped        EventType = "connection.send_dropped"

	// Playback events
	EventTypeTrackQueued   EventType = "playback.track_queued"
	EventTypeTrackStarted  EventType = "playback.track_started"
	EventTypeTrackFinished EventType = "playback.track_finished"
	EventTypeTrackFailed   EventType = "playback.track_failed"

	// Conversation events
	EventTypeStateChanged EventType = "conversation.state_changed"
	EventTypeUserMessage  EventType = "conversation.user_message"
	EventTypeResponseDone EventType = "conversation.response_done"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
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

// Publish sends an event to all subscribed handlers without waiting.
// A nil bus is valid and drops everything.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	handlers := b.snapshot(event.Type)

	var wg sync.WaitGroup
	for _, handler := range handlers {
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
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}
