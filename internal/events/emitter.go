package events

import (
	"sync"
)

// Emitter delivers values to callbacks in registration order.
// Callbacks run on the goroutine that calls Emit.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
	nextID    uint64
	sticky    bool
	last      *T
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// NewEmitter creates an Emitter. When sticky is true the last emitted
// value is replayed to callbacks registered after it was emitted.
func NewEmitter[T any](sticky bool) *Emitter[T] {
	return &Emitter[T]{sticky: sticky}
}

// Listen registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (e *Emitter[T]) Listen(fn func(T)) func() {
	if fn == nil {
		panic("Emitter: callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	var replay *T
	if e.sticky && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every registered callback with value.
func (e *Emitter[T]) Emit(value T) {
	e.mu.Lock()
	if e.sticky {
		v := value
		e.last = &v
	}
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(value)
	}
}

// ListenerCount returns the number of registered callbacks.
func (e *Emitter[T]) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
