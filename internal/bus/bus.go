// Package bus provides the per-session event bus that carries view updates
// to the frontend
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// View events of one widget session
const (
	// Conversation events
	EventTypeBubbleAppended EventType = "bubble.appended"
	EventTypeBubbleUpdated  EventType = "bubble.updated"
	EventTypeChatScroll     EventType = "chat.scroll"
	EventTypeSendState      EventType = "send.state"

	// Avatar events
	EventTypeAvatarState  EventType = "avatar.state"
	EventTypeMouthChanged EventType = "mouth.changed"

	// Dictation events
	EventTypeDictationInput   EventType = "dictation.input"
	EventTypeDictationControl EventType = "dictation.control"
)

// ViewEvents lists every event a frontend renders.
var ViewEvents = []EventType{
	EventTypeBubbleAppended,
	EventTypeBubbleUpdated,
	EventTypeChatScroll,
	EventTypeSendState,
	EventTypeAvatarState,
	EventTypeMouthChanged,
	EventTypeDictationInput,
	EventTypeDictationControl,
}

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

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	return handlers
}

// Publish sends an event to all subscribed handlers without waiting
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete.
// Successive PublishSync calls from one goroutine are observed in order.
func (b *EventBus) PublishSync(event Event) {
	handlers := b.snapshot(event.Type)
	if len(handlers) == 1 {
		handlers[0](event)
		return
	}

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
