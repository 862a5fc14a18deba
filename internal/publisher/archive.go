package publisher

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// Archiver keeps a durable copy of a published batch.
type Archiver interface {
	Archive(ctx context.Context, requestID string, records []scraper.Record) error
}

// Archiving publishes through next and then hands non-empty batches to every
// archiver. Archive failures are logged and never fail the publish.
type Archiving struct {
	next      scraper.Publisher
	archivers []Archiver
	logger    *zap.Logger
}

// WithArchive wraps next. With no archivers it returns next unchanged.
func WithArchive(next scraper.Publisher, logger *zap.Logger, archivers ...Archiver) scraper.Publisher {
	if len(archivers) == 0 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiving{next: next, archivers: archivers, logger: logger}
}

// Publish implements scraper.Publisher.
func (a *Archiving) Publish(ctx context.Context, requestID string, records []scraper.Record) error {
	if err := a.next.Publish(ctx, requestID, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	for _, arch := range a.archivers {
		if err := arch.Archive(ctx, requestID, records); err != nil {
			a.logger.Warn("archive batch failed",
				zap.String("request_id", requestID),
				zap.Int("records", len(records)),
				zap.Error(err))
		}
	}
	return nil
}

// Close closes the wrapped publisher when it is an io.Closer.
func (a *Archiving) Close() error {
	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
