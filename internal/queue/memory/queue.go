// Package memory provides an in-process job queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
)

// ErrClosed is returned when enqueueing into a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. It keeps
// count of how deliveries were settled.
type Queue struct {
	ch       chan *queue.Delivery
	closeMu  sync.Mutex
	closed   bool
	acked    atomic.Int64
	rejected atomic.Int64
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan *queue.Delivery, capacity),
	}
}

// Enqueue pushes a message or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, body []byte, headers map[string]string) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return ErrClosed
	}
	d := queue.NewDelivery(body, headers, time.Now().UTC(),
		func() error { q.acked.Add(1); return nil },
		func() error { q.rejected.Add(1); return nil },
	)
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// Consume streams queued deliveries until ctx ends or the queue is closed.
func (q *Queue) Consume(ctx context.Context) (<-chan *queue.Delivery, error) {
	out := make(chan *queue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-q.ch:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}

// Acked reports how many deliveries were acknowledged.
func (q *Queue) Acked() int64 {
	return q.acked.Load()
}

// Rejected reports how many deliveries were rejected.
func (q *Queue) Rejected() int64 {
	return q.rejected.Load()
}
