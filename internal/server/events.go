package server

import (
	"sync"

	"github.com/comfycap/comfycap/internal/logger"
)

// EventType names a lifecycle transition of the capture listener.
type EventType string

const (
	EventServerStarted EventType = "server_started"
	EventServerStopped EventType = "server_stopped"
)

// Event is published on every lifecycle transition.
type Event struct {
	Type EventType `json:"type"`
	Port int       `json:"port"`
}

// Bus fans lifecycle events out to subscribers. Slow subscribers miss
// events rather than block the lifecycle operation that produced them.
type Bus struct {
	mu        sync.Mutex
	listeners []chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a listener for lifecycle events
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 10)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners {
		select {
		case ch <- e:
		default:
			logger.WithComponent("events").Warn().
				Str("type", string(e.Type)).
				Int("port", e.Port).
				Msg("Dropping event for slow subscriber")
		}
	}
}
