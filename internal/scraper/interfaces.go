package scraper

import (
	"context"
	"time"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// Browser hands out page-automation sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one isolated browser tab. Evaluate runs a JavaScript expression
// and decodes its JSON-serialisable result into out (which may be nil).
type Session interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, out any) error
	Close() error
}

// Strategy extracts candidate offers from one page. Extract never fails:
// problems are reported through log and yield partial or empty output.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, url string, log progress.Logger) []RawItem
}

// Publisher broadcasts the records of one completed request.
type Publisher interface {
	Publish(ctx context.Context, requestID string, records []Record) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs for jobs that arrive without one.
type IDGenerator interface {
	NewID() (string, error)
}
