package events

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/repair-service/internal/domain"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, domain.NotificationEvent) error

// Bus allows committed event publication/subscription.
type Bus interface {
	Publish(ctx context.Context, event domain.NotificationEvent) error
	Subscribe(kind domain.EventKind, handler EventHandler)
	SubscribeAll(handler EventHandler)
}

// inMemoryBus is a simple synchronous bus.
type inMemoryBus struct {
	mu        sync.RWMutex
	listeners map[domain.EventKind][]EventHandler
	wildcard  []EventHandler
}

// NewInMemoryBus creates a bus instance.
func NewInMemoryBus() Bus {
	return &inMemoryBus{
		listeners: make(map[domain.EventKind][]EventHandler),
	}
}

// Publish synchronously invokes handlers for the given event. Every handler
// runs even when an earlier one fails; failures are joined.
func (b *inMemoryBus) Publish(ctx context.Context, event domain.NotificationEvent) error {
	b.mu.RLock()
	handlers := append([]EventHandler{}, b.listeners[event.Kind]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for the given event kind.
func (b *inMemoryBus) Subscribe(kind domain.EventKind, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], handler)
}

// SubscribeAll registers a handler for every event kind.
func (b *inMemoryBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}
