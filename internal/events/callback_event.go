package events

import (
	"sync"
)

// CallbackEvent calls every registered listener synchronously on Notify, in
// the notifier's goroutine. Listeners must not block.
type CallbackEvent[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64
	replay    replay[T]
}

func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners: make(map[uint64]func(T)),
		replay:    replay[T]{enabled: sendLastEventOnListen},
	}
}

// Listen registers callback and returns a function that deregisters it. When
// replay is enabled the callback is invoked with the latest value before
// Listen returns.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	last, ok := e.replay.value()
	e.mu.Unlock()

	if ok {
		callback(last)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify invokes all listeners outside the lock, so a listener may deregister
// itself or register others.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.replay.record(value)
	targets := make([]func(T), 0, len(e.listeners))
	for _, cb := range e.listeners {
		targets = append(targets, cb)
	}
	e.mu.Unlock()

	for _, cb := range targets {
		cb(value)
	}
}

func (e *CallbackEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replay.value()
}

func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
