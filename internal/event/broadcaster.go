// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package event

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// Broadcaster fans host events out to subscribers. It implements Sink,
// so it can be handed directly to the registry and lifecycle manager.
type Broadcaster struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe returns a channel receiving all events emitted after the
// call.
func (b *Broadcaster) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close removes and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Emit delivers an event to all current subscribers. Delivery is
// non-blocking: a subscriber with a full buffer misses the event and a
// warning is logged.
func (b *Broadcaster) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("host event dropped: subscriber buffer full",
				"event_id", e.ID.String(),
				"event_type", string(e.Type),
				"plugin", e.Plugin,
			)
		}
	}
}
