package bus

import (
	"log/slog"
	"sync"
)

// MessageBus is an in-process EventPublisher. Handlers run synchronously on
// the broadcasting goroutine and must not block.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates an empty bus.
func New() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Broadcast delivers event to every subscriber. A panicking handler is
// logged and does not stop delivery to the others.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, event)
	}
}

// Subscribers returns the number of registered handlers.
func (b *MessageBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: event handler panicked", "event", event.Name, "panic", r)
		}
	}()
	h(event)
}
