package link

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO buffer with blocking receive. Consumers are
// woken by a broadcast channel that is closed and replaced on every push, so
// a push between a consumer's empty-check and its wait is never missed.
//
// Growth is unbounded: a slow consumer accumulates items indefinitely. That
// matches the delivery contract (nothing the platform pushes is dropped) and
// is a documented limitation.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{})}
}

// push appends an item and wakes every waiting consumer.
func (q *queue[T]) push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	close(q.wake)
	q.wake = make(chan struct{})
}

// pop removes and returns the oldest item, blocking until one is available.
// It fails only on context cancellation, or with ErrClosed once the queue is
// closed and drained.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T

	for {
		q.mu.Lock()

		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero // release the slot before reslicing
			q.items = q.items[1:]
			q.mu.Unlock()

			return item, nil
		}

		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}

		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close marks the queue closed and wakes all waiters. Buffered items remain
// drainable; pop fails with ErrClosed only once the queue is empty.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// inboundQueues is the set of four independent FIFO queues the delegate
// adapter appends to and the Receive* operations drain from.
type inboundQueues struct {
	messages *queue[Payload]
	data     *queue[[]byte]
	userInfo *queue[Payload]
	files    *queue[File]
}

func newInboundQueues() *inboundQueues {
	return &inboundQueues{
		messages: newQueue[Payload](),
		data:     newQueue[[]byte](),
		userInfo: newQueue[Payload](),
		files:    newQueue[File](),
	}
}

func (qs *inboundQueues) closeAll() {
	qs.messages.close()
	qs.data.close()
	qs.userInfo.close()
	qs.files.close()
}
