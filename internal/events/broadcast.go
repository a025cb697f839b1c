package events

import (
	"sync"
)

// Broadcast fans values out to subscriber channels without blocking the
// publisher. A subscriber that falls behind loses its oldest queued value.
type Broadcast[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	last   *T
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: make(map[uint64]chan T)}
}

// Subscribe returns a channel with the given buffer size and a cancel
// function that unsubscribes and closes the channel. If a value has been
// published already, it is queued on the new channel straight away.
func (b *Broadcast[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.last != nil {
		ch <- *b.last
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish queues value on every subscriber channel.
func (b *Broadcast[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := value
	b.last = &v
	for _, ch := range b.subs {
		for {
			select {
			case ch <- value:
			default:
				// full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Last returns the most recently published value.
func (b *Broadcast[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		var zero T
		return zero, false
	}
	return *b.last, true
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcast[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
