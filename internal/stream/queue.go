package stream

import (
	"context"
	"io"
	"sync"
)

// Queue is the ordered hand-off between the chunk producer and the sink
// appender. Chunks leave in arrival order; the queue never reorders. A
// single consumer dequeues.
type Queue struct {
	mu     sync.Mutex
	chunks []*Chunk
	closed bool

	waitCh chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		waitCh: make(chan struct{}, 1),
	}
}

// Enqueue appends a chunk to the queue. It fails once production has been
// closed.
func (q *Queue) Enqueue(c *Chunk) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.chunks = append(q.chunks, c)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes and returns the oldest chunk, blocking until one is
// available. It returns io.EOF once production is closed and the queue
// has drained.
func (q *Queue) Dequeue(ctx context.Context) (*Chunk, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			c := q.chunks[0]
			q.chunks[0] = nil // release the payload reference
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return c, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, io.EOF
		}

		select {
		case <-q.waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Clear drops every pending chunk.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.chunks = nil
	q.mu.Unlock()
}

// CloseProduction marks the producing side finished. Pending chunks still
// drain; Dequeue returns io.EOF once the queue is empty.
func (q *Queue) CloseProduction() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Depth returns the number of pending chunks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

func (q *Queue) signal() {
	select {
	case q.waitCh <- struct{}{}:
	default:
	}
}
