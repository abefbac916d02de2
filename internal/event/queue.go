// ABOUTME: Unbounded FIFO mailbox for component events
// ABOUTME: Producers never block; a pump goroutine feeds a single consumer channel
package event

import (
	"sync"
)

// Queue delivers pushed values in order on C().
// Push never blocks, so audio callbacks and socket readers can publish
// without waiting on the dispatch loop.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

// NewQueue creates a queue and starts its pump
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends v. Values pushed after Close are discarded.
func (q *Queue[T]) Push(v T) {
	select {
	case <-q.done:
		return
	default:
	}

	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// C returns the consumer channel
func (q *Queue[T]) C() <-chan T {
	return q.out
}

// Len returns the number of values not yet handed to the consumer
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the pump. Undelivered values are dropped.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}

func (q *Queue[T]) pump() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}
