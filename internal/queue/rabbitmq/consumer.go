// Package rabbitmq consumes scrape requests from a durable RabbitMQ queue with
// manual acknowledgements and a bounded prefetch window.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
)

// DefaultQueue is the job queue name shared with the request intake.
const DefaultQueue = "scrape_requests"

const defaultConsumerTag = "offer-scraper"

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Config configures the consumer.
type Config struct {
	Queue    string
	Prefetch int
	// DeadLetterExchange, when set, is declared on the queue and rejected
	// deliveries are dead-lettered instead of acknowledged.
	DeadLetterExchange string
	ConsumerTag        string
}

// Consumer adapts an AMQP channel to queue.Consumer. Acks and rejects are
// serialized because AMQP channels are not safe for concurrent use.
type Consumer struct {
	ch     Channel
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

// NewConsumer builds a consumer on ch.
func NewConsumer(ch Channel, cfg Config, logger *zap.Logger) (*Consumer, error) {
	if ch == nil {
		return nil, errors.New("amqp channel is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = defaultConsumerTag
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{ch: ch, cfg: cfg, logger: logger}, nil
}

// Consume declares the durable queue, applies the prefetch limit, and starts
// streaming deliveries.
func (c *Consumer) Consume(ctx context.Context) (<-chan *queue.Delivery, error) {
	var args amqp.Table
	if c.cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
	}

	c.mu.Lock()
	src, err := c.setup(args)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.logger.Info("consuming job queue",
		zap.String("queue", c.cfg.Queue),
		zap.Int("prefetch", c.cfg.Prefetch),
		zap.String("dead_letter_exchange", c.cfg.DeadLetterExchange),
	)

	out := make(chan *queue.Delivery)
	go c.forward(ctx, src, out)
	return out, nil
}

func (c *Consumer) setup(args amqp.Table) (<-chan amqp.Delivery, error) {
	if _, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	src, err := c.ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return src, nil
}

func (c *Consumer) forward(ctx context.Context, src <-chan amqp.Delivery, out chan<- *queue.Delivery) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			c.cancel()
			return
		case msg, ok := <-src:
			if !ok {
				c.logger.Warn("job queue delivery channel closed")
				return
			}
			select {
			case out <- c.wrap(msg):
			case <-ctx.Done():
				c.cancel()
				return
			}
		}
	}
}

func (c *Consumer) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ch.Cancel(c.cfg.ConsumerTag, false); err != nil {
		c.logger.Debug("cancel consumer", zap.Error(err))
	}
}

func (c *Consumer) wrap(msg amqp.Delivery) *queue.Delivery {
	ack := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := msg.Ack(false); err != nil {
			return fmt.Errorf("ack delivery %d: %w", msg.DeliveryTag, err)
		}
		return nil
	}
	settleFailed := ack
	if c.cfg.DeadLetterExchange != "" {
		settleFailed = func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if err := msg.Reject(false); err != nil {
				return fmt.Errorf("reject delivery %d: %w", msg.DeliveryTag, err)
			}
			return nil
		}
	}
	return queue.NewDelivery(msg.Body, headerStrings(msg.Headers), msg.Timestamp, ack, settleFailed)
}

func headerStrings(table amqp.Table) map[string]string {
	if len(table) == 0 {
		return nil
	}
	out := make(map[string]string, len(table))
	for k, v := range table {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []byte:
			out[k] = string(val)
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// Close closes the underlying channel.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close consumer channel: %w", err)
	}
	return nil
}
