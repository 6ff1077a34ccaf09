package events

import (
	"context"
	"sync"
)

// defaultHistory bounds the in-memory event buffer
const defaultHistory = 1024

// MemorySink is an in-process sink: it keeps a bounded history and fans
// events out to subscribers. Used when the engine is embedded without a
// broker, and by the websocket event stream.
type MemorySink struct {
	mu          sync.RWMutex
	history     []*Event
	limit       int
	subscribers map[int]Handler
	nextSub     int
	closed      bool
}

// NewMemorySink creates a memory sink with the default history bound
func NewMemorySink() *MemorySink {
	return &MemorySink{
		limit:       defaultHistory,
		subscribers: make(map[int]Handler),
	}
}

// Publish records the event and notifies subscribers synchronously
func (s *MemorySink) Publish(_ context.Context, ev *Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.history = append(s.history, ev)
	if len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
	handlers := make([]Handler, 0, len(s.subscribers))
	for _, h := range s.subscribers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers a handler and returns an unsubscribe function
func (s *MemorySink) Subscribe(h Handler) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// History returns a copy of the retained events
func (s *MemorySink) History() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.history))
	copy(out, s.history)
	return out
}

// Close drops subscribers and stops accepting events
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subscribers = make(map[int]Handler)
	return nil
}
