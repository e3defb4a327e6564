package events

import (
	"sync"
)

// ChannelEvent fans a value out to any number of listener channels.
// Sends never block: a listener whose channel is full misses that value.
type ChannelEvent[T any] struct {
	mu       sync.RWMutex
	channels map[uint64]chan<- T
	nextID   uint64
	replay   replay[T]
}

// NewChannelEvent creates a ChannelEvent. With sendLastEventOnListen set, a new
// listener immediately receives the latest notified value, if any.
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels: make(map[uint64]chan<- T),
		replay:   replay[T]{enabled: sendLastEventOnListen},
	}
}

// Listen registers ch and returns a function that deregisters it.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	last, ok := e.replay.value()
	e.mu.Unlock()

	if ok {
		select {
		case ch <- last:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered channel.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.replay.record(value)
	targets := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// Last returns the latest notified value. It is only tracked when the event
// was created with sendLastEventOnListen.
func (e *ChannelEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replay.value()
}

func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
