// Package retry runs operations under a fixed-delay retry policy. It backs the
// broker connection and browser session acquisition, which both retry a set
// number of times with a constant pause and no backoff growth.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/clock/system"
)

// ErrExhausted is wrapped into the error returned once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Fixed retries an operation up to MaxAttempts times, pausing Delay between
// attempts.
type Fixed struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *zap.Logger
	// Sleep defaults to system.Sleep; tests replace it to avoid real pauses.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewFixed builds a policy from the configured attempt count and delay in
// seconds.
func NewFixed(maxAttempts, delaySeconds int, logger *zap.Logger) Fixed {
	return Fixed{
		MaxAttempts: maxAttempts,
		Delay:       time.Duration(delaySeconds) * time.Second,
		Logger:      logger,
	}
}

// ShouldRetry decides whether another attempt follows a failed one. Only the
// attempt budget counts here: dial timeouts match context.DeadlineExceeded and
// must still be retried. Do stops early when the caller's context ends.
func (p Fixed) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.attempts()
}

// Backoff returns the pause before the next attempt; it never grows.
func (p Fixed) Backoff(int) time.Duration {
	return p.Delay
}

func (p Fixed) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Do calls fn until it succeeds or the attempts run out. attempt is 1-based.
func (p Fixed) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = system.Sleep
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry", zap.String("op", op), zap.Int("attempt", attempt))
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w: %w", op, ctxErr, err)
		}
		if !p.ShouldRetry(err, attempt) {
			return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempt, err)
		}
		logger.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.attempts()),
			zap.Duration("delay", p.Delay),
			zap.Error(err),
		)
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return fmt.Errorf("%s: wait before retry: %w", op, err)
		}
	}
}
