package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// LogSink mirrors progress events into the operational log. It is useful
// during development when no log API is reachable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("request_id", evt.RequestID),
			zap.String("level", string(evt.Level)),
			zap.Time("event_ts", evt.Timestamp),
		}
		switch evt.Level {
		case progress.LevelError:
			s.logger.Error(evt.Message, fields...)
		case progress.LevelWarning:
			s.logger.Warn(evt.Message, fields...)
		default:
			s.logger.Info(evt.Message, fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
