// Package server assembles the scraper process around the worker pool: broker
// transport, browser, strategies, progress sinks, the optional offer archive
// and the operations HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/realtime-offer-scraper/internal/api"
	"github.com/JakeFAU/realtime-offer-scraper/internal/broker"
	"github.com/JakeFAU/realtime-offer-scraper/internal/browser/headless"
	"github.com/JakeFAU/realtime-offer-scraper/internal/clock/system"
	"github.com/JakeFAU/realtime-offer-scraper/internal/config"
	"github.com/JakeFAU/realtime-offer-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/id/uuid"
	"github.com/JakeFAU/realtime-offer-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-offer-scraper/internal/progress/sinks"
	"github.com/JakeFAU/realtime-offer-scraper/internal/publisher"
	memorypublisher "github.com/JakeFAU/realtime-offer-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-offer-scraper/internal/publisher/pubsub"
	amqppublisher "github.com/JakeFAU/realtime-offer-scraper/internal/publisher/rabbitmq"
	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
	queueMemory "github.com/JakeFAU/realtime-offer-scraper/internal/queue/memory"
	gcpqueue "github.com/JakeFAU/realtime-offer-scraper/internal/queue/pubsub"
	amqpqueue "github.com/JakeFAU/realtime-offer-scraper/internal/queue/rabbitmq"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-offer-scraper/internal/storage"
	"github.com/JakeFAU/realtime-offer-scraper/internal/storage/gcs"
	"github.com/JakeFAU/realtime-offer-scraper/internal/storage/local"
	"github.com/JakeFAU/realtime-offer-scraper/internal/storage/postgres"
	"github.com/JakeFAU/realtime-offer-scraper/internal/strategy"
	"github.com/JakeFAU/realtime-offer-scraper/internal/telemetry"
	"github.com/JakeFAU/realtime-offer-scraper/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	liveFeedBuffer  = 256
)

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// closer is anything the App releases on shutdown.
type closer interface {
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	consumer  queue.Consumer
	publisher scraper.Publisher
	enqueuer  api.Enqueuer
	ready     func(context.Context) error

	amqpConn     *amqp.Connection
	pubsubClient *pubsub.Client
	browser      closer
	redisClient  *redis.Client
	pgPool       *pgxpool.Pool
	blobStore    closer

	progress    *progress.Factory
	broadcaster *progresssinks.Broadcaster
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server

	forwardCancel  context.CancelFunc
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Connections opened before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			app.closeInfrastructure(closeCtx)
			app.closeObservability(closeCtx)
		}
	}()

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Info("building application dependencies", zap.String("driver", cfg.Broker.Driver))
	if err = app.setupTransport(ctx); err != nil {
		return nil, err
	}
	browser, err := app.setupBrowser(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := app.setupStrategies(browser)
	if err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, o.registerer); err != nil {
		return nil, err
	}

	w := worker.New(
		registry,
		app.publisher,
		app.progress,
		uuid.New(),
		system.New(),
		worker.Config{
			PublishEmpty: cfg.Results.PublishEmpty,
			RejectFailed: app.rejectsFailed(),
		},
		app.logger.Named("worker"),
	)
	app.dispatch = dispatcher.New(app.consumer, w, cfg.Queue.Prefetch, app.logger.Named("dispatcher"))

	var jobs api.Enqueuer
	if app.enqueuer != nil {
		jobs = app.dispatch
	}
	app.apiServer = api.NewServer(api.Options{
		Logger: app.logger.Named("api"),
		Ready:  app.ready,
		Events: app.broadcaster,
		Jobs:   jobs,
		IDs:    uuid.New(),
	})
	return app, nil
}

func (a *App) setupTransport(ctx context.Context) error {
	switch a.cfg.Broker.Driver {
	case config.DriverRabbitMQ:
		return a.setupRabbitMQ(ctx)
	case config.DriverPubSub:
		return a.setupPubSub(ctx)
	default:
		q := queueMemory.NewQueue(a.cfg.Queue.Capacity)
		a.consumer = q
		a.enqueuer = q
		a.publisher = memorypublisher.New()
		a.logger.Warn("using in-memory queue and publisher", zap.Int("capacity", a.cfg.Queue.Capacity))
		return nil
	}
}

func (a *App) setupRabbitMQ(ctx context.Context) error {
	b := a.cfg.Broker
	conn, err := broker.Connect(ctx, b.Host, b.User, b.Password, b.MaxRetries, b.RetryDelaySeconds,
		broker.WithPort(b.Port),
		broker.WithVHost(b.VHost),
		broker.WithLogger(a.logger.Named("broker")),
	)
	if err != nil {
		return err
	}
	a.amqpConn = conn
	a.ready = func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("broker connection closed")
		}
		return nil
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	consumer, err := amqpqueue.NewConsumer(consumeCh, amqpqueue.Config{
		Queue:              a.cfg.Queue.Name,
		Prefetch:           a.cfg.Queue.Prefetch,
		DeadLetterExchange: a.cfg.Queue.DeadLetterExchange,
	}, a.logger.Named("consumer"))
	if err != nil {
		_ = consumeCh.Close()
		return fmt.Errorf("consumer init failed: %w", err)
	}
	a.consumer = consumer

	publishCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publisher channel: %w", err)
	}
	pub, err := amqppublisher.New(publishCh, a.cfg.Results.Exchange)
	if err != nil {
		_ = publishCh.Close()
		return fmt.Errorf("publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("rabbitmq transport ready",
		zap.String("queue", a.cfg.Queue.Name),
		zap.String("exchange", a.cfg.Results.Exchange),
		zap.Int("prefetch", a.cfg.Queue.Prefetch),
	)
	return nil
}

func (a *App) setupPubSub(ctx context.Context) error {
	ps := a.cfg.PubSub
	var clientOpts []option.ClientOption
	if ps.EmulatorHost != "" {
		conn, err := grpc.NewClient(ps.EmulatorHost, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial pubsub emulator: %w", err)
		}
		clientOpts = append(clientOpts, option.WithGRPCConn(conn))
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client

	consumer, err := gcpqueue.NewConsumer(client, gcpqueue.Config{
		Subscription: ps.Subscription,
		Prefetch:     a.cfg.Queue.Prefetch,
		DeadLetter:   ps.DeadLetter,
	}, a.logger.Named("consumer"))
	if err != nil {
		return fmt.Errorf("consumer init failed: %w", err)
	}
	a.consumer = consumer
	a.ready = func(ctx context.Context) error {
		ok, err := consumer.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("subscription %s not found", ps.Subscription)
		}
		return nil
	}
	a.publisher = gcppublisher.New(client.Topic(ps.Topic))
	a.logger.Info("pubsub transport ready",
		zap.String("project", ps.ProjectID),
		zap.String("subscription", ps.Subscription),
		zap.String("topic", ps.Topic),
	)
	return nil
}

func (a *App) setupBrowser(ctx context.Context) (scraper.Browser, error) {
	bc := a.cfg.Browser
	if !bc.Enabled {
		a.logger.Warn("browser disabled, only API fallbacks can produce offers")
		return headless.NewNoop(), nil
	}
	b, err := headless.New(ctx, headless.Config{
		EndpointURL:     bc.EndpointURL,
		MaxParallel:     bc.MaxParallel,
		UserAgent:       bc.UserAgent,
		HostQPS:         bc.HostQPS,
		ConnectAttempts: bc.ConnectRetries,
		ConnectDelay:    a.cfg.BrowserConnectDelay(),
	}, a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}
	a.browser = b
	return b, nil
}

func (a *App) setupStrategies(browser scraper.Browser) (*strategy.Registry, error) {
	sc := a.cfg.Strategy
	stratCfg := strategy.Config{
		Browser:    browser,
		ScriptsDir: sc.ScriptsDir,
		Logger:     a.logger.Named("strategy"),
	}
	if sc.MagaluAPIFallback {
		stratCfg.MagaluAPI = &strategy.MagaluAPIConfig{
			BaseURL:   sc.MagaluAPIBase,
			UserAgent: a.cfg.Browser.UserAgent,
		}
	}
	registry, err := strategy.NewDefaultRegistry(stratCfg)
	if err != nil {
		return nil, fmt.Errorf("strategy registry init failed: %w", err)
	}
	a.logger.Info("strategies registered", zap.Strings("names", registry.Names()))
	return registry, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	db := a.cfg.Database
	if db.DSN == "" {
		return nil
	}
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: a.cfg.DatabaseConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pgPool = pool
	if db.Migrate {
		if err := postgres.Migrate(ctx, pool, db.OffersTable, db.LogsTable); err != nil {
			return err
		}
	}
	a.logger.Info("postgres archive enabled",
		zap.String("offers_table", db.OffersTable),
		zap.Bool("store_logs", db.StoreLogs),
	)
	return nil
}

// setupArchive wraps the result publisher so published batches are also kept
// in Postgres and/or a blob store.
func (a *App) setupArchive(ctx context.Context) error {
	var archivers []publisher.Archiver
	if a.pgPool != nil {
		offers, err := postgres.NewOfferStore(a.pgPool, a.cfg.Database.OffersTable)
		if err != nil {
			return err
		}
		archivers = append(archivers, offers)
	}

	ac := a.cfg.Archive
	var blobs storage.BlobStore
	switch ac.Backend {
	case config.ArchiveLocal:
		store, err := local.New(ac.Dir)
		if err != nil {
			return fmt.Errorf("archive init failed: %w", err)
		}
		blobs = store
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: ac.Bucket, Endpoint: ac.Endpoint})
		if err != nil {
			return fmt.Errorf("archive init failed: %w", err)
		}
		a.blobStore = store
		blobs = store
	}
	if blobs != nil {
		arch, err := storage.NewBlobArchiver(blobs, ac.Prefix)
		if err != nil {
			return err
		}
		archivers = append(archivers, arch)
		a.logger.Info("blob archive enabled", zap.String("backend", ac.Backend), zap.String("prefix", ac.Prefix))
	}

	a.publisher = publisher.WithArchive(a.publisher, a.logger.Named("archive"), archivers...)
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	var sinkList []progress.Sink
	if a.cfg.LogSink.BaseURL != "" {
		httpSink, err := progresssinks.NewHTTPSink(progresssinks.HTTPConfig{
			BaseURL: a.cfg.LogSink.BaseURL,
			Path:    a.cfg.LogSink.Path,
			Timeout: a.cfg.LogSinkTimeout(),
			Logger:  a.logger.Named("progress_http"),
		})
		if err != nil {
			return fmt.Errorf("log sink init failed: %w", err)
		}
		sinkList = append(sinkList, httpSink)
		a.logger.Debug("added progress http sink", zap.String("endpoint", httpSink.Endpoint()))
	} else {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}

	if a.pgPool != nil && a.cfg.Database.StoreLogs {
		logStore, err := postgres.NewLogStore(a.pgPool, a.cfg.Database.LogsTable)
		if err != nil {
			return err
		}
		sinkList = append(sinkList, logStore)
	}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	sinkList = append(sinkList, promSink)

	a.broadcaster = progresssinks.NewBroadcaster(liveFeedBuffer, a.logger.Named("live_feed"))
	sinkList = append(sinkList, a.broadcaster)

	rc := a.cfg.Redis
	if rc.Addr != "" {
		client, err := progresssinks.NewRedisClient(ctx, progresssinks.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		a.redisClient = client
		sinkList = append(sinkList, progresssinks.NewRedisSink(client, rc.Channel, a.logger.Named("progress_redis")))
		if rc.Subscribe {
			// The channel already carries this process's events, so the live
			// feed is fed from Redis only.
			sinkList = removeSink(sinkList, a.broadcaster)
			fwdCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			if err := progresssinks.ForwardRedis(fwdCtx, client, rc.Channel, a.broadcaster, a.logger.Named("live_feed")); err != nil {
				cancel()
				return fmt.Errorf("redis subscribe failed: %w", err)
			}
			a.forwardCancel = cancel
		}
		a.logger.Info("redis live feed enabled", zap.String("channel", rc.Channel), zap.Bool("subscribe", rc.Subscribe))
	}

	relayCfg := progress.Config{
		FlushInterval: a.cfg.FlushInterval(),
		BatchSize:     a.cfg.Progress.BatchSize,
		GracePeriod:   a.cfg.GracePeriod(),
		MaxBuffered:   a.cfg.Progress.MaxBuffered,
		Logger:        a.logger.Named("progress"),
	}
	a.progress = progress.NewFactory(relayCfg, sinkList...)
	a.logger.Info("progress relay configured",
		zap.Int("sinks", len(sinkList)),
		zap.Duration("flush_interval", relayCfg.FlushInterval),
		zap.Int("batch_size", relayCfg.BatchSize),
		zap.Duration("grace_period", relayCfg.GracePeriod),
	)
	return nil
}

func removeSink(list []progress.Sink, target progress.Sink) []progress.Sink {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func (a *App) rejectsFailed() bool {
	switch a.cfg.Broker.Driver {
	case config.DriverRabbitMQ:
		return a.cfg.Queue.DeadLetterExchange != ""
	case config.DriverPubSub:
		return a.cfg.PubSub.DeadLetter
	default:
		return false
	}
}

// Handler exposes the operations HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run consumes jobs until ctx is cancelled, a termination signal arrives, or
// the broker closes the subscription, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan error, 1)
	go func() {
		a.logger.Info("dispatcher started", zap.Int("concurrency", a.cfg.Queue.Prefetch))
		dispatchDone <- a.dispatch.Run(ctx)
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		runErr = <-dispatchDone
	case runErr = <-dispatchDone:
		a.logger.Error("dispatcher stopped", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.Close(shutdownCtx)
	return runErr
}

// Close releases every dependency. It is safe to call after a failed Run.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("consumer close failed", zap.Error(err))
		}
	}
	if a.forwardCancel != nil {
		a.forwardCancel()
	}
	if a.progress != nil {
		if err := a.progress.Close(ctx); err != nil {
			a.logger.Warn("progress sinks close failed", zap.Error(err))
		}
	} else if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if c, ok := a.publisher.(closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("archive store close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			a.logger.Warn("broker connection close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
