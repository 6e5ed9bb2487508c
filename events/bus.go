package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is a synchronous in-process event bus. Handlers run on the publishing
// goroutine in subscription order. A panicking handler is recovered, logged
// and counted; it can never fail or block the storage operation that
// triggered the event.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Type][]subscription
	all      []subscription

	dropped uint64 // handler panics recovered since construction
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]subscription)}
}

// Subscribe registers a handler for one event type. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(t Type, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[t]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.all {
			if sub.id == id {
				b.all = append(b.all[:i], b.all[i+1:]...)
				break
			}
		}
	}
}

// Publish builds an Event for the payload and delivers it to subscribers.
func (b *Bus) Publish(t Type, payload interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[t])+len(b.all))
	subs = append(subs, b.handlers[t]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			log.Printf("events: handler panic on %s: %v", event.Type, r)
		}
	}()
	sub.handler(event)
}

// Dropped reports how many handler panics have been recovered.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
