// Package queue defines the consumer side of the job queue. Drivers for
// RabbitMQ, Google Cloud Pub/Sub, and an in-memory channel turn broker
// messages into Deliveries that the worker settles exactly once.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadySettled is returned when a delivery is acked or rejected twice.
var ErrAlreadySettled = errors.New("delivery already settled")

// Consumer streams deliveries until ctx is cancelled or the broker closes the
// subscription, at which point the returned channel is closed.
type Consumer interface {
	Consume(ctx context.Context) (<-chan *Delivery, error)
	Close() error
}

// Delivery is one job message. Exactly one of Ack or Reject takes effect; the
// driver decides what rejection means (dead-letter or nack).
type Delivery struct {
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time

	ack    func() error
	reject func() error

	mu      sync.Mutex
	settled bool
}

// NewDelivery wires the broker-specific settle callbacks. A nil reject falls
// back to ack.
func NewDelivery(body []byte, headers map[string]string, ts time.Time, ack, reject func() error) *Delivery {
	if ack == nil {
		ack = func() error { return nil }
	}
	if reject == nil {
		reject = ack
	}
	return &Delivery{Body: body, Headers: headers, Timestamp: ts, ack: ack, reject: reject}
}

// Header returns the header value for key or "".
func (d *Delivery) Header(key string) string {
	if d.Headers == nil {
		return ""
	}
	return d.Headers[key]
}

// Ack confirms the delivery.
func (d *Delivery) Ack() error {
	return d.settle(d.ack)
}

// Reject gives the delivery up without requeueing it.
func (d *Delivery) Reject() error {
	return d.settle(d.reject)
}

// Settled reports whether Ack or Reject has been called.
func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delivery) settle(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return fn()
}
