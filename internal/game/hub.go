package game

import (
	"log"
	"sync"
)

// Subscription is one viewer's bounded event queue. The hub never blocks on
// it: a subscriber whose buffer fills up is pruned instead.
type Subscription struct {
	ch     chan Event
	hub    *Hub
	closed bool
}

// Events is the stream to drain. It is closed when the subscription is
// pruned or Close is called.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans round events out to all live subscriptions. Delivery to one
// subscriber is isolated from the others and from round progression.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new event sink. The snapshot event is delivered
// before anything published afterwards.
func (h *Hub) Subscribe(snapshot Event) *Subscription {
	sub := &Subscription{
		ch:  make(chan Event, h.buffer),
		hub: h,
	}
	sub.ch <- snapshot

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	total := len(h.subs)
	h.mu.Unlock()

	log.Printf("[WS] Subscriber added (total: %d)", total)
	return sub
}

// Publish fans ev out to every live subscription without blocking. Slow
// subscribers are dropped, never waited on.
func (h *Hub) Publish(ev Event) {
	var dead []*Subscription

	h.mu.RLock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			dead = append(dead, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range dead {
		log.Printf("[WS] Subscriber too slow, dropping (event: %s)", ev.Type)
		h.remove(sub)
	}
}

// SubscriberCount reports live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
