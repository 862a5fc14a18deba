// Package broker owns the process-wide RabbitMQ connection. Connect retries a
// fixed number of times with a constant delay; once it gives up the caller is
// expected to abort startup.
package broker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/retry"
)

const (
	defaultPort      = 5672
	defaultHeartbeat = 10 * time.Second
	connectionName   = "offer-scraper"
)

// Dialer opens one AMQP connection to uri.
type Dialer func(uri string) (*amqp.Connection, error)

type options struct {
	port   int
	vhost  string
	logger *zap.Logger
	dial   Dialer
	sleep  func(context.Context, time.Duration) error
}

// Option customises Connect.
type Option func(*options)

// WithPort overrides the AMQP port (default 5672).
func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

// WithVHost selects a virtual host.
func WithVHost(vhost string) Option {
	return func(o *options) { o.vhost = vhost }
}

// WithLogger attaches a logger for retry warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithSleep replaces the pause between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// URL builds the AMQP URI for the given credentials.
func URL(host string, port int, user, pass, vhost string) string {
	if port <= 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strings.TrimPrefix(vhost, "/"),
	}
	return u.String()
}

// Connect dials the broker, making at most maxRetries attempts spaced
// delaySeconds apart. It fails only after maxRetries consecutive failures.
func Connect(
	ctx context.Context,
	host, user, pass string,
	maxRetries, delaySeconds int,
	opts ...Option,
) (*amqp.Connection, error) {
	o := options{port: defaultPort, dial: dialDefault}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uri := URL(host, o.port, user, pass, o.vhost)
	policy := retry.NewFixed(maxRetries, delaySeconds, logger)
	policy.Sleep = o.sleep

	var conn *amqp.Connection
	err := policy.Do(ctx, "connect to broker", func(_ context.Context, attempt int) error {
		logger.Debug("dialing broker", zap.String("host", host), zap.Int("attempt", attempt))
		c, err := o.dial(uri)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", host, err)
	}
	logger.Info("connected to broker", zap.String("host", host), zap.Int("port", o.port))
	return conn, nil
}

func dialDefault(uri string) (*amqp.Connection, error) {
	return amqp.DialConfig(uri, amqp.Config{
		Heartbeat:  defaultHeartbeat,
		Properties: amqp.Table{"connection_name": connectionName},
	})
}
