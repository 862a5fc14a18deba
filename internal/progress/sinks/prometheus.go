package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// PrometheusSink counts relayed progress events by level.
type PrometheusSink struct {
	events *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_progress_events_total",
			Help: "Progress events relayed, partitioned by level.",
		}, []string{"level"}),
	}
	if err := reg.Register(s.events); err != nil {
		return nil, fmt.Errorf("register progress collector: %w", err)
	}
	return s, nil
}

// Consume updates the counters using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := string(evt.Level)
		if level == "" {
			level = string(progress.LevelInfo)
		}
		s.events.WithLabelValues(level).Inc()
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
