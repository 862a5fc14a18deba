// Package rabbitmq broadcasts record batches on a durable fanout exchange.
// Publishing is fire-and-forget: no publisher confirms are requested.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/realtime-offer-scraper/internal/publisher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends each batch as one persistent JSON message. The channel is
// shared by concurrent jobs, so every operation holds mu.
type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
	mu       sync.Mutex
}

// New declares the fanout exchange and returns a publisher bound to it.
func New(ch Channel, exchange string) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is required")
	}
	if exchange == "" {
		exchange = publisher.DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}, nil
}

// Publish broadcasts records for requestID. Empty batches are sent as [].
func (p *Publisher) Publish(ctx context.Context, requestID string, records []scraper.Record) error {
	body, err := publisher.Encode(records)
	if err != nil {
		return err
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := amqp.Table{publisher.HeaderRequestID: requestID}
	for k, v := range carrier {
		headers[k] = v
	}
	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    requestID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	return nil
}

// Close closes the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close publisher channel: %w", err)
	}
	return nil
}
