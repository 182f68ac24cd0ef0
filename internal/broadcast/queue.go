package broadcast

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when a queue subscriber falls too far behind
var ErrBufferFull = errors.New("subscriber buffer full")

// DefaultQueueSize fits every frame a single job can produce
const DefaultQueueSize = 32

// Queue is a buffered Subscriber. Transports drain Messages() on their own goroutine.
type Queue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewQueue creates a queue subscriber with the given buffer size
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Send enqueues msg without blocking
func (q *Queue) Send(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close ends the stream. Buffered messages remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Messages returns the receive side of the queue. It is closed after Close.
func (q *Queue) Messages() <-chan Message {
	return q.ch
}
