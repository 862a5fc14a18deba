// Package dispatcher fans queue deliveries out to concurrent job handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
)

// ErrConsumerClosed is returned by Run when the delivery stream ends while
// the dispatcher is still supposed to be running.
var ErrConsumerClosed = errors.New("delivery stream closed")

// ErrEnqueueUnsupported is returned by Enqueue when the consumer cannot accept
// jobs directly.
var ErrEnqueueUnsupported = errors.New("queue does not accept direct enqueue")

// Handler processes one delivery and settles it.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *queue.Delivery)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, d *queue.Delivery) {
	f(ctx, d)
}

// Enqueuer is implemented by in-process queues that accept jobs directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte, headers map[string]string) error
}

// Dispatcher runs one goroutine per delivery, at most concurrency at a time.
type Dispatcher struct {
	consumer    queue.Consumer
	handler     Handler
	concurrency int
	logger      *zap.Logger
	inFlight    atomic.Int64
}

// New creates a Dispatcher. concurrency should match the broker prefetch;
// zero or less means unbounded.
func New(consumer queue.Consumer, handler Handler, concurrency int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		consumer:    consumer,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run consumes deliveries until ctx is cancelled, then waits for the jobs in
// flight. Jobs run detached from ctx so a shutdown never interrupts a job
// midway. Every received delivery is handed to the handler.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	var sem chan struct{}
	if d.concurrency > 0 {
		sem = make(chan struct{}, d.concurrency)
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", zap.Int64("in_flight", d.inFlight.Load()))
			return nil
		case del, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrConsumerClosed
			}
			if sem != nil {
				sem <- struct{}{}
			}
			d.inFlight.Add(1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer d.inFlight.Add(-1)
				if sem != nil {
					defer func() { <-sem }()
				}
				d.handler.Handle(jobCtx, del)
			}()
		}
	}
}

// InFlight reports how many jobs are currently running.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Enqueue proxies to the underlying queue when it accepts direct submissions.
func (d *Dispatcher) Enqueue(ctx context.Context, body []byte, headers map[string]string) error {
	enq, ok := d.consumer.(Enqueuer)
	if !ok {
		return ErrEnqueueUnsupported
	}
	if err := enq.Enqueue(ctx, body, headers); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
