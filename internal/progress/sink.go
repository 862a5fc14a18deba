package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently by many
// relays.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Logger accepts progress messages for a single job. Relay satisfies this
// interface so extraction code stays agnostic about buffering and delivery.
type Logger interface {
	Log(message string, level Level)
}

// Discard is a Logger that drops every message.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(string, Level) {}
