// Package events connects the Telegram transport, the broadcast engine
// and the WebSocket gateway without direct coupling.
package events

import (
	"log"
	"sync"
)

type subscriber struct {
	id int
	ch chan any
}

// Bus routes signal lifecycle events between components. Delivery is
// per-topic and best effort: a subscriber that stops draining loses
// events rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Event][]subscriber
}

func NewBus() *Bus {
	return &Bus{topics: make(map[Event][]subscriber)}
}

// Subscribe registers a listener for one topic. The returned function
// removes the listener and closes its channel; it is safe to call once.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{id: b.nextID, ch: make(chan any, buffer)}
	b.nextID++
	b.topics[e] = append(b.topics[e], sub)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[e]
		for i := range subs {
			if subs[i].id == sub.id {
				close(subs[i].ch)
				b.topics[e] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return sub.ch, unsub
}

// Publish hands the payload to every listener on the topic. A full
// subscriber queue drops the event; a broadcast must never wait on the
// SDK pump.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.topics[e] {
		select {
		case sub.ch <- payload:
		default:
			log.Printf("events: dropped %s for slow subscriber", e)
		}
	}
}
