package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("queue closed")

// Bounded is a fixed-capacity FIFO backed by a buffered channel. TryPush
// never blocks: when the queue is full the item is dropped and counted.
type Bounded[T any] struct {
	ch      chan T
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

func NewBounded[T any](capacity int) *Bounded[T] {
	return &Bounded[T]{
		ch:   make(chan T, max(capacity, 1)),
		done: make(chan struct{}),
	}
}

// TryPush enqueues v if there is room and reports whether it did.
func (q *Bounded[T]) TryPush(v T) bool {
	if q.closed.Load() {
		return false
	}
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Push blocks until v is enqueued, ctx is done or the queue is closed.
func (q *Bounded[T]) Push(ctx context.Context, v T) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPop dequeues without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Pop blocks until an item is available. Items queued before Close are still
// delivered; afterwards Pop returns ErrClosed.
func (q *Bounded[T]) Pop(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-q.done:
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		var zero T
		return zero, ErrClosed
	}
}

// Close stops further pushes. It is safe to call more than once.
func (q *Bounded[T]) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Bounded[T]) Cap() int { return cap(q.ch) }

// Dropped returns how many TryPush calls found the queue full.
func (q *Bounded[T]) Dropped() uint64 { return q.dropped.Load() }
