package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// DefaultRedisChannel is the pub/sub channel carrying the live log feed.
const DefaultRedisChannel = "scrape:logs"

const redisPingTimeout = 5 * time.Second

// RedisConfig holds the live feed connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ErrEmptyRedisAddr is returned when the live feed is enabled without an address.
var ErrEmptyRedisAddr = errors.New("redis address is required")

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyRedisAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisSink publishes every event as JSON on a Redis channel so observers in
// other processes can follow jobs live.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink wraps an existing client. The sink owns the client and closes
// it on Close.
func NewRedisSink(client *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, channel: channel, logger: logger}
}

// Consume publishes the batch one event per message.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		payload, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal live event: %w", err))
			continue
		}
		if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish live event: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts down the Redis client.
func (s *RedisSink) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// ForwardRedis subscribes to channel and feeds decoded events into dst until
// ctx is cancelled. It returns once the subscription is confirmed; the
// forwarding loop runs in the background.
func ForwardRedis(ctx context.Context, client *redis.Client, channel string, dst progress.Sink, logger *zap.Logger) error {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	go func() {
		defer func() { _ = sub.Close() }()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt progress.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					logger.Debug("discarding malformed live event", zap.Error(err))
					continue
				}
				if err := dst.Consume(ctx, []progress.Event{evt}); err != nil {
					logger.Debug("forward live event failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}
