package events

import (
	"sync"
	"sync/atomic"
)

// Hub fans events out to in-process subscribers. Each subscriber has a bounded
// buffer; when it is full the event is dropped for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

type Subscription struct {
	id     uint64
	hub    *Hub
	filter func(Event) bool
	ch     chan Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (h *Hub) Subscribe(buffer int, filter func(Event) bool) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{hub: h, filter: filter, ch: make(chan Event, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	return s
}

func (h *Hub) Notify(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*Subscription{}
	h.closed = true
	h.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// C delivers events until the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	h.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.ch) })
	}
}
