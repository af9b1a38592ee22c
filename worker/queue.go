package worker

import "sync"

// queue is an unbounded FIFO. Pushes never block; ready is signalled after every push.
type queue[T any] struct {
	mut    sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) bool {
	q.mut.Lock()
	if q.closed {
		q.mut.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mut.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *queue[T]) pop() (T, bool) {
	q.mut.Lock()
	defer q.mut.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// let the backing array go
		q.items = nil
	}
	return v, true
}

func (q *queue[T]) len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.items)
}

// close refuses further pushes. Items already queued can still be popped.
func (q *queue[T]) close() {
	q.mut.Lock()
	defer q.mut.Unlock()
	q.closed = true
}
