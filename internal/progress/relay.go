package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for a Relay.
//   - FlushInterval: tick period of the background flusher (default 500ms).
//   - BatchSize: maximum events delivered per tick (default 10).
//   - GracePeriod: upper bound for the final drain on Close (default 1s).
//   - SinkTimeout: delivery budget per event; a sink gets SinkTimeout times
//     the batch length to consume a batch (default 5s).
//   - MaxBuffered: events held before new ones are dropped (default 4096).
//   - Logger: optional structured logger used for warnings.
//   - Now: clock used to stamp events (defaults to time.Now in UTC).
type Config struct {
	FlushInterval time.Duration
	BatchSize     int
	GracePeriod   time.Duration
	SinkTimeout   time.Duration
	MaxBuffered   int
	Logger        *zap.Logger
	Now           func() time.Time
}

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchSize     = 10
	defaultGracePeriod   = time.Second
	defaultSinkTimeout   = 5 * time.Second
	defaultMaxBuffered   = 4096
	dropLogInterval      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = defaultMaxBuffered
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Relay buffers the progress events of one request and forwards them to the
// sinks on a fixed tick, at most BatchSize events per tick. Log never blocks
// and never fails; delivery errors are swallowed.
type Relay struct {
	cfg       Config
	requestID string
	sinks     []Sink
	logger    *zap.Logger

	mu  sync.Mutex
	buf []Event

	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	dropLimiter rateLimiter
	dropped     atomic.Int64
}

// NewRelay starts a relay for requestID. Callers must Close it to flush the
// remaining events and stop the background goroutine.
func NewRelay(requestID string, cfg Config, sinks ...Sink) *Relay {
	r := newRelay(requestID, cfg, sinks...)
	go r.run()
	return r
}

func newRelay(requestID string, cfg Config, sinks ...Sink) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		cfg:         cfg,
		requestID:   requestID,
		sinks:       append([]Sink(nil), sinks...),
		logger:      cfg.Logger.With(zap.String("request_id", requestID)),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// RequestID reports the request the relay is scoped to.
func (r *Relay) RequestID() string {
	if r == nil {
		return ""
	}
	return r.requestID
}

// Log enqueues a message. An unset level is inferred from the message text.
// Blank messages are dropped.
func (r *Relay) Log(message string, level Level) {
	if r == nil || r.closed.Load() {
		return
	}
	evt := Event{
		RequestID: r.requestID,
		Message:   message,
		Level:     ResolveLevel(message, level),
		Timestamp: r.cfg.Now(),
	}
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	r.mu.Lock()
	if len(r.buf) >= r.cfg.MaxBuffered {
		r.mu.Unlock()
		r.dropped.Add(1)
		if r.dropLimiter.Allow(time.Now()) {
			count := r.dropped.Swap(0)
			r.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
		}
		return
	}
	r.buf = append(r.buf, evt)
	r.mu.Unlock()
}

// Pending reports how many events are buffered and not yet delivered.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Close stops the ticker, drains the buffer in batches, and returns once the
// drain finishes or the grace period elapses. Events still buffered after the
// grace period are discarded. It is safe to call multiple times.
func (r *Relay) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress relay close wait: %w", ctx.Err())
	}
}

func (r *Relay) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tick(context.Background())
		case <-r.stopCh:
			r.drain()
			return
		}
	}
}

// tick delivers at most one batch and reports how many events it took.
func (r *Relay) tick(ctx context.Context) int {
	batch := r.take(r.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}
	r.deliver(ctx, batch)
	return len(batch)
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GracePeriod)
	defer cancel()
	for ctx.Err() == nil {
		if r.tick(ctx) == 0 {
			return
		}
	}
	if n := r.Pending(); n > 0 {
		r.logger.Debug("progress events discarded after grace period", zap.Int("pending", n))
	}
}

func (r *Relay) take(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(limit, len(r.buf))
	if n == 0 {
		return nil
	}
	batch := append([]Event(nil), r.buf[:n]...)
	r.buf = append(r.buf[:0], r.buf[n:]...)
	return batch
}

// deliver hands batch to every sink. Sinks such as HTTPSink spend one request
// per event, so the budget scales with the batch; parent still caps it during
// the shutdown drain.
func (r *Relay) deliver(parent context.Context, batch []Event) {
	budget := r.cfg.SinkTimeout * time.Duration(max(len(batch), 1))
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(parent, budget)
		if err := sink.Consume(ctx, batch); err != nil {
			r.logger.Debug("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
