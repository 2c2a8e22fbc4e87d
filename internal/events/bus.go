package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Bus fans events out to subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan *Event]string
	closed      atomic.Bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan *Event]string),
	}
}

// Subscribe returns a buffered channel receiving all future events
func (b *Bus) Subscribe(name string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.subscribers[ch] = name
	return ch
}

// Unsubscribe removes a subscription channel
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, ch)
}

// Publish delivers an event to every subscriber that can take it right
// now. A full subscriber channel is skipped, never waited on.
func (b *Bus) Publish(event *Event) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is closed")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() error {
	b.closed.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
	return nil
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
