package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

var ErrQueueClosed = errors.New("media: queue closed")

// OverflowPolicy decides what happens when a Queue is full.
type OverflowPolicy int

const (
	// BlockBriefly makes Push wait up to the configured time for room, then
	// rejects the new item.
	BlockBriefly OverflowPolicy = iota
	// DropOldest evicts the head to make room for the new item.
	DropOldest
)

// Queue is a bounded FIFO shared by one producer and one consumer stage.
type Queue[T any] struct {
	capacity int
	policy   OverflowPolicy
	block    time.Duration

	mu     sync.Mutex
	items  deque.Deque[T]
	closed bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

func NewQueue[T any](capacity int, policy OverflowPolicy, block time.Duration) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		capacity: capacity,
		policy:   policy,
		block:    block,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push enqueues v. When an item had to be discarded it is returned with
// dropped=true: the evicted head for DropOldest, v itself for BlockBriefly.
func (q *Queue[T]) Push(v T) (discarded T, dropped bool, err error) {
	var deadline time.Time
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return discarded, false, ErrQueueClosed
		}
		if q.items.Len() < q.capacity {
			q.items.PushBack(v)
			q.mu.Unlock()
			signal(q.notEmpty)
			return discarded, dropped, nil
		}
		if q.policy == DropOldest {
			discarded = q.items.PopFront()
			q.items.PushBack(v)
			q.mu.Unlock()
			signal(q.notEmpty)
			return discarded, true, nil
		}
		q.mu.Unlock()

		if deadline.IsZero() {
			deadline = time.Now().Add(q.block)
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return v, true, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-q.notFull:
		case <-q.done:
		case <-t.C:
		}
		t.Stop()
	}
}

// Pop blocks until an item is available, ctx is done or the queue is closed
// and drained.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			v := q.items.PopFront()
			q.mu.Unlock()
			signal(q.notFull)
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notEmpty:
		case <-q.done:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue[T]) Cap() int { return q.capacity }

// Close rejects further pushes; pending items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Clear discards every pending item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items.Clear()
	q.mu.Unlock()
	signal(q.notFull)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
