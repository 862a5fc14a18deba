// Package worker runs one scrape job per queue delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
	"github.com/JakeFAU/realtime-offer-scraper/internal/publisher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-offer-scraper/internal/telemetry"
)

// ErrPanic wraps a panic recovered while processing a job.
var ErrPanic = errors.New("job panicked")

// ErrNoStrategy is returned when the selector yields nothing for a URL.
var ErrNoStrategy = errors.New("no strategy for url")

const relayCloseTimeout = 5 * time.Second

// StrategySelector maps a page URL to the strategy that extracts it.
type StrategySelector interface {
	Select(url string) scraper.Strategy
}

// Progress opens the job-scoped progress relay.
type Progress interface {
	Open(requestID string) *progress.Relay
}

// Config controls Worker behavior.
type Config struct {
	// PublishEmpty publishes an empty list when a job finds no offers.
	PublishEmpty bool
	// RejectFailed rejects failed deliveries instead of acking them. Only
	// meaningful when the queue dead-letters rejected messages.
	RejectFailed bool
}

// Worker executes the scrape pipeline for a delivery and settles it.
type Worker struct {
	strategies StrategySelector
	publisher  scraper.Publisher
	progress   Progress
	ids        scraper.IDGenerator
	clock      scraper.Clock
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New constructs a Worker.
func New(
	strategies StrategySelector,
	pub scraper.Publisher,
	prog Progress,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		strategies: strategies,
		publisher:  pub,
		progress:   prog,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		tracer:     telemetry.Tracer(),
	}
}

// Handle runs the job carried by d and settles d exactly once. Failures are
// reported to the job's progress log and never returned.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	job, err := ParseJob(d.Body, d.Header(publisher.HeaderRequestID), w.ids)
	job.EnqueuedAt = d.Timestamp
	logger := w.logger.With(zap.String("request_id", job.RequestID), zap.String("url", job.URL))
	relay := w.progress.Open(job.RequestID)
	defer w.closeRelay(relay, logger)

	ctx, span := w.tracer.Start(ctx, "scrape job", trace.WithAttributes(
		attribute.String("scraper.request_id", job.RequestID),
		attribute.String("scraper.url", job.URL),
	))
	defer span.End()

	outcome := metrics.OutcomeFailed
	if err == nil {
		outcome, err = w.run(ctx, job, relay, logger)
	}
	if err != nil {
		outcome = metrics.OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("scrape job failed", zap.Error(err))
		relay.Log(fmt.Sprintf("❌ error while scraping: %v", err), progress.LevelError)
	}
	w.settle(d, err, logger)
	metrics.ObserveJob(outcome)
}

// run selects a strategy, extracts, validates and publishes. A panic anywhere
// in the pipeline is converted into an error.
func (w *Worker) run(
	ctx context.Context,
	job scraper.Job,
	log progress.Logger,
	logger *zap.Logger,
) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	log.Log(fmt.Sprintf("📥 request received: %s", job.URL), progress.LevelInfo)
	strategy := w.strategies.Select(job.URL)
	if strategy == nil {
		return "", fmt.Errorf("%w: %s", ErrNoStrategy, job.URL)
	}
	name := strategy.Name()
	logger.Debug("strategy selected", zap.String("strategy", name))

	start := time.Now()
	items := strategy.Extract(ctx, job.URL, log)
	metrics.ObserveExtraction(name, time.Since(start))

	records := scraper.Normalize(items, job.URL, w.clock.Now())
	logger.Info("extraction finished",
		zap.String("strategy", name),
		zap.Int("candidates", len(items)),
		zap.Int("offers", len(records)),
	)

	outcome = metrics.OutcomeSucceeded
	if len(records) == 0 {
		outcome = metrics.OutcomeEmpty
		log.Log(fmt.Sprintf("⚠️ no offers found at %s", job.URL), progress.LevelWarning)
		if !w.cfg.PublishEmpty {
			return outcome, nil
		}
	} else {
		log.Log(fmt.Sprintf("✅ %d offers collected from %s", len(records), job.URL), progress.LevelSuccess)
	}

	if err := w.publisher.Publish(ctx, job.RequestID, records); err != nil {
		return "", fmt.Errorf("publish results: %w", err)
	}
	metrics.ObservePublished(name, len(records))
	log.Log(fmt.Sprintf("📦 %d offers published", len(records)), progress.LevelSuccess)
	return outcome, nil
}

func (w *Worker) settle(d *queue.Delivery, failure error, logger *zap.Logger) {
	settle := d.Ack
	if failure != nil && w.cfg.RejectFailed {
		settle = d.Reject
	}
	if err := settle(); err != nil {
		logger.Error("settle delivery failed", zap.Error(err))
	}
}

func (w *Worker) closeRelay(relay *progress.Relay, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), relayCloseTimeout)
	defer cancel()
	if err := relay.Close(ctx); err != nil {
		logger.Warn("progress relay close", zap.Error(err))
	}
}
