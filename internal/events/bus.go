package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives events synchronously on the emitting goroutine. Handlers
// must not block; slow consumers should buffer and drop.
type Handler func(event *Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe hub
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
	log    zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers handler for eventType and returns a function that removes it
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers data to every subscriber of its event type. A nil Bus is a no-op.
func (b *Bus) Emit(module string, data EventData) {
	if b == nil {
		return
	}
	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type]))
	for _, s := range b.subs[event.Type] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	b.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Int("subscribers", len(handlers)).
		Msg("Event emitted")

	for _, h := range handlers {
		h(event)
	}
}
