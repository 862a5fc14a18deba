package sinks

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans progress events out to in-process subscribers such as SSE
// connections. Slow subscribers lose events instead of stalling the relays.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[uint64]*subscriber
	nextID     uint64
	bufferSize int
	closed     bool
	logger     *zap.Logger
}

type subscriber struct {
	requestID string
	events    chan progress.Event
	once      sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// NewBroadcaster builds a broadcaster whose subscribers buffer up to
// bufferSize events each.
func NewBroadcaster(bufferSize int, logger *zap.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:       make(map[uint64]*subscriber),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a subscriber. An empty requestID receives every event.
// The returned cancel func unregisters and closes the channel; it is safe to
// call more than once. Subscribing to a closed broadcaster yields a closed
// channel.
func (b *Broadcaster) Subscribe(requestID string) (<-chan progress.Event, func()) {
	sub := &subscriber{requestID: requestID, events: make(chan progress.Event, b.bufferSize)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.events, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.events, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
}

// Subscribers reports the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Consume delivers each event to matching subscribers without blocking.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, evt := range batch {
		for _, sub := range b.subs {
			if sub.requestID != "" && sub.requestID != evt.RequestID {
				continue
			}
			select {
			case sub.events <- evt:
			default:
				b.logger.Debug("dropping progress event for slow subscriber", zap.String("request_id", evt.RequestID))
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	return nil
}
