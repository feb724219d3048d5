// Package outbound implements the channel that carries tunnel messages from any
// number of producers to the single goroutine that writes them onto the link.
package outbound

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/wsrelay/internal/protocol"
)

var (
	// ErrQueueClosed is returned by TryPush after Close.
	ErrQueueClosed = errors.New("outbound queue closed")
	// ErrQueueFull is returned by TryPush when a limit is set and reached.
	ErrQueueFull = errors.New("outbound queue full")
)

// Queue is a FIFO of tunnel messages. TryPush never blocks; Pop blocks until a
// message is available, the queue is closed and drained, or ctx is done.
//
// A zero limit means unbounded.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Message
	limit  int
	closed bool

	// notify holds at most one wake-up token for the consumer.
	notify chan struct{}
}

// NewQueue creates a queue. limit <= 0 disables the capacity check.
func NewQueue(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// TryPush enqueues msg without blocking. Producers never observe queued items
// again; ownership passes to the consumer.
func (q *Queue) TryPush(msg protocol.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest message. After Close it keeps returning
// queued messages and then ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (protocol.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and wakes the consumer. Safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
