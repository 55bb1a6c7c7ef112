package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Subscriptions are keyed
// by user so each SSE stream only sees its own events.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Envelope
}

// Envelope wraps a typed event with its SSE event name.
type Envelope struct {
	Type    string
	Payload any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Envelope)}
}

// Subscribe registers a listener for one user's events and returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(userID string, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[userID] = append(b.subs[userID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[userID]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[userID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
	}

	return ch, unsub
}

// Publish fan-outs the payload to the user's subscribers without blocking.
func (b *Bus) Publish(userID string, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[userID] {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
