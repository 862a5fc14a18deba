package progress

import (
	"context"
	"errors"
	"fmt"
)

// Factory opens per-request relays that share one set of sinks. The sinks are
// owned by the factory and closed by Factory.Close.
type Factory struct {
	cfg   Config
	sinks []Sink
}

// NewFactory captures the relay configuration and the shared sinks.
func NewFactory(cfg Config, sinks ...Sink) *Factory {
	return &Factory{cfg: cfg, sinks: append([]Sink(nil), sinks...)}
}

// Open starts a relay scoped to requestID.
func (f *Factory) Open(requestID string) *Relay {
	return NewRelay(requestID, f.cfg, f.sinks...)
}

// Close releases every shared sink.
func (f *Factory) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
