// Package memory contains an in-memory result publisher for local runs and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-offer-scraper/internal/publisher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// Publisher stores published batches for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	RequestID string
	Records   []scraper.Record
	Body      []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err (nil restores success).
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish encodes and records the batch.
func (p *Publisher) Publish(_ context.Context, requestID string, records []scraper.Record) error {
	body, err := publisher.Encode(records)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, PublishedMessage{
		RequestID: requestID,
		Records:   append([]scraper.Record(nil), records...),
		Body:      body,
	})
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close implements io.Closer; it performs no action.
func (p *Publisher) Close() error {
	return nil
}
