// Package pubsub consumes scrape requests from a Google Cloud Pub/Sub
// subscription. MaxOutstandingMessages plays the role of the AMQP prefetch.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
)

// Config configures the consumer.
type Config struct {
	Subscription string
	Prefetch     int
	// DeadLetter makes rejected deliveries Nack so the subscription's
	// dead-letter policy can take them. Otherwise rejects are acked.
	DeadLetter bool
}

// Consumer adapts a subscription to queue.Consumer.
type Consumer struct {
	sub    *pubsub.Subscription
	cfg    Config
	logger *zap.Logger
}

// NewConsumer builds a consumer for cfg.Subscription on client.
func NewConsumer(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.Subscription == "" {
		return nil, errors.New("pubsub subscription is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscription(cfg.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.Prefetch
	return &Consumer{sub: sub, cfg: cfg, logger: logger}, nil
}

// Consume starts receiving in the background. The channel closes when ctx is
// cancelled or Receive fails.
func (c *Consumer) Consume(ctx context.Context) (<-chan *queue.Delivery, error) {
	out := make(chan *queue.Delivery)
	go func() {
		defer close(out)
		err := c.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			d := queue.NewDelivery(msg.Data, msg.Attributes, msg.PublishTime, ackFunc(msg), c.rejectFunc(msg))
			select {
			case out <- d:
			case <-msgCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("pubsub receive stopped", zap.String("subscription", c.cfg.Subscription), zap.Error(err))
		}
	}()
	c.logger.Info("consuming job subscription",
		zap.String("subscription", c.cfg.Subscription),
		zap.Int("prefetch", c.cfg.Prefetch),
	)
	return out, nil
}

func ackFunc(msg *pubsub.Message) func() error {
	return func() error {
		msg.Ack()
		return nil
	}
}

func (c *Consumer) rejectFunc(msg *pubsub.Message) func() error {
	if !c.cfg.DeadLetter {
		return ackFunc(msg)
	}
	return func() error {
		msg.Nack()
		return nil
	}
}

// Close is a no-op; the shared client is closed by its owner.
func (c *Consumer) Close() error {
	return nil
}

// Exists reports whether the subscription is present.
func (c *Consumer) Exists(ctx context.Context) (bool, error) {
	ok, err := c.sub.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check subscription %s: %w", c.cfg.Subscription, err)
	}
	return ok, nil
}
