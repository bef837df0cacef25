// Package server provides the application composition root: it builds every
// dependency from configuration and runs the HTTP server next to the refresh
// pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/api"
	"github.com/JakeFAU/savecodenow/internal/archive"
	"github.com/JakeFAU/savecodenow/internal/clock/system"
	"github.com/JakeFAU/savecodenow/internal/config"
	"github.com/JakeFAU/savecodenow/internal/dispatcher"
	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/events/sinks"
	"github.com/JakeFAU/savecodenow/internal/exporter"
	"github.com/JakeFAU/savecodenow/internal/id/uuid"
	"github.com/JakeFAU/savecodenow/internal/logging"
	"github.com/JakeFAU/savecodenow/internal/manager"
	"github.com/JakeFAU/savecodenow/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/savecodenow/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/savecodenow/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/savecodenow/internal/queue/memory"
	"github.com/JakeFAU/savecodenow/internal/savecode"
	"github.com/JakeFAU/savecodenow/internal/scheduler"
	schedmem "github.com/JakeFAU/savecodenow/internal/scheduler/memory"
	"github.com/JakeFAU/savecodenow/internal/search/bleve"
	gcsstorage "github.com/JakeFAU/savecodenow/internal/storage/gcs"
	localstorage "github.com/JakeFAU/savecodenow/internal/storage/local"
	memoryStorage "github.com/JakeFAU/savecodenow/internal/storage/memory"
	pgstore "github.com/JakeFAU/savecodenow/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/savecodenow/internal/storage/sqlite"
	"github.com/JakeFAU/savecodenow/internal/telemetry"
	"github.com/JakeFAU/savecodenow/internal/webhook"
	"github.com/JakeFAU/savecodenow/internal/worker"
)

// Options tune Build. The zero value is fine for production use.
type Options struct {
	// Viper backs config hot reload; nil disables it.
	Viper *viper.Viper
	// Registerer receives the store and lifecycle collectors.
	Registerer prometheus.Registerer
	// Logger overrides the logger built from config.
	Logger *zap.Logger
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	viper  *viper.Viper
	logger *zap.Logger
	level  zap.AtomicLevel
	reg    prometheus.Registerer

	store     savecode.Store
	migrator  migrator
	manager   *manager.Manager
	ingestor  *webhook.Ingestor
	exporter  *exporter.Exporter
	apiServer *api.Server
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	sweeper   *dispatcher.Sweeper
	limiter   *ratelimit.Limiter

	hub             *events.Hub
	broadcaster     *sinks.Broadcaster
	collector       prometheus.Collector
	search          *bleve.Index
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client

	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
	closeOnce      sync.Once
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{cfg: cfg, viper: opts.Viper, reg: opts.Registerer}
	if app.reg == nil {
		app.reg = prometheus.DefaultRegisterer
	}
	if opts.Logger != nil {
		app.logger = opts.Logger
		app.level = zap.NewAtomicLevelAt(opts.Logger.Level())
	} else {
		logger, level, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger, app.level = logger, level
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Strings("visit_types", cfg.Save.VisitTypes),
	)

	tp, mp, err := telemetry.InitTelemetry(ctx, &app.cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.metricShutdown = mp.Shutdown

	if err := app.build(ctx); err != nil {
		app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	sched, err := a.setupScheduler()
	if err != nil {
		return err
	}
	arch, err := a.setupArchive()
	if err != nil {
		return err
	}
	search, err := a.setupSearch()
	if err != nil {
		return err
	}
	emitter, err := a.setupEvents(ctx)
	if err != nil {
		return err
	}

	a.queue = queueMemory.NewQueue(a.cfg.Save.QueueDepth)
	a.dispatch = dispatcher.New(a.queue, nil)
	clock := system.New()
	a.manager, err = manager.New(manager.Options{
		Store:          a.store,
		Scheduler:      sched,
		Archive:        arch,
		Search:         search,
		Events:         emitter,
		Queue:          a.dispatch,
		Clock:          clock,
		Logger:         a.logger.Named("manager"),
		VisitTypes:     a.cfg.Save.VisitTypes,
		AllowedSchemes: a.cfg.Save.AllowedSchemes,
		GraceWindow:    a.cfg.Save.GraceWindow,
		BatchSize:      a.cfg.Save.RefreshBatchSize,
	})
	if err != nil {
		return fmt.Errorf("manager init failed: %w", err)
	}
	a.setupPipeline()

	if a.cfg.Webhooks.Enabled {
		generic, err := webhook.NewGenericAdapter()
		if err != nil {
			return fmt.Errorf("webhook adapter init failed: %w", err)
		}
		a.ingestor, err = webhook.NewIngestor(webhook.Options{
			Creator:        a.manager,
			Lister:         a.store,
			Clock:          clock,
			Logger:         a.logger.Named("webhook"),
			Adapters:       []webhook.Adapter{generic},
			Secret:         a.cfg.Webhooks.Secret,
			Cooldown:       a.cfg.Webhooks.Cooldown,
			AllowedSchemes: a.cfg.Save.AllowedSchemes,
		})
		if err != nil {
			return fmt.Errorf("webhook ingestor init failed: %w", err)
		}
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	a.exporter, err = exporter.New(a.store, blobs, clock, a.logger.Named("exporter"), 0)
	if err != nil {
		return fmt.Errorf("exporter init failed: %w", err)
	}

	a.collector = telemetry.NewRequestCollector(a.store, 5*time.Second, a.logger.Named("collector"))
	if err := a.reg.Register(a.collector); err != nil {
		a.collector = nil
		return fmt.Errorf("register request collector: %w", err)
	}

	a.apiServer = a.setupAPI()
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store, a.migrator = store, store
		a.logger.Info("using postgres request store")
	case "sqlite":
		store, err := sqlitestore.Open(a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store, a.migrator = store, store
		a.logger.Info("using sqlite request store", zap.String("dsn", a.cfg.Database.DSN))
	default:
		a.logger.Warn("using in-memory request store; requests are lost on restart")
		a.store = memoryStorage.NewRequestStore()
	}
	if a.migrator != nil && a.cfg.Database.AutoMigrate {
		if err := a.migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate request store: %w", err)
		}
	}
	return nil
}

func (a *App) setupScheduler() (savecode.Scheduler, error) {
	if a.cfg.Scheduler.URL == "" {
		a.logger.Warn("no scheduler url configured, using in-memory scheduler")
		return schedmem.New(a.cfg.Save.VisitTypes...), nil
	}
	client, err := scheduler.New(scheduler.Options{
		BaseURL:    a.cfg.Scheduler.URL,
		Timeout:    a.cfg.SchedulerTimeout(),
		MaxRetries: a.cfg.Scheduler.MaxRetries,
		BaseDelay:  time.Duration(a.cfg.Scheduler.BackoffInitialMs) * time.Millisecond,
		MaxDelay:   time.Duration(a.cfg.Scheduler.BackoffMaxMs) * time.Millisecond,
		Logger:     a.logger.Named("scheduler"),
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler client init failed: %w", err)
	}
	a.logger.Info("scheduler client initialized", zap.String("url", a.cfg.Scheduler.URL))
	return client, nil
}

func (a *App) setupArchive() (savecode.Archive, error) {
	if a.cfg.Archive.URL == "" {
		a.logger.Info("no archive url configured, visit lookups disabled")
		return nil, nil
	}
	client, err := archive.New(archive.Options{
		BaseURL: a.cfg.Archive.URL,
		Token:   a.cfg.Archive.Token,
		Timeout: time.Duration(a.cfg.Archive.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client init failed: %w", err)
	}
	return client, nil
}

func (a *App) setupSearch() (savecode.SearchIndex, error) {
	if a.cfg.Search.Backend != "bleve" {
		return nil, nil
	}
	index, err := bleve.Open(a.cfg.Search.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("search index init failed: %w", err)
	}
	a.search = index
	a.logger.Info("origin search index opened", zap.String("path", a.cfg.Search.IndexPath))
	return index, nil
}

func (a *App) setupEvents(ctx context.Context) (events.Emitter, error) {
	if !a.cfg.Events.Enabled {
		a.logger.Info("lifecycle events disabled")
		return nil, nil
	}
	var sinkList []events.Sink
	promSink, err := sinks.NewPrometheusSink(a.reg)
	if err != nil {
		return nil, err
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events_log")))
	}
	if a.cfg.Events.WebsocketEnabled {
		a.broadcaster = sinks.NewBroadcaster(a.logger.Named("events_ws"))
		sinkList = append(sinkList, a.broadcaster)
	}
	pubSink, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	sinkList = append(sinkList, pubSink)

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Events.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Events.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("events_hub"),
		IDs:            uuid.New(),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("lifecycle event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub, nil
}

func (a *App) setupPublisher(ctx context.Context) (events.Sink, error) {
	topic := a.cfg.PubSub.TopicName
	if topic == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, lifecycle notifications stay in memory")
		return sinks.NewPublisherSink(memorypublisher.New(), "lifecycle")
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher, err = gcppublisher.New(a.pubsubClient, topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", topic),
	)
	return sinks.NewPublisherSink(a.pubsubPublisher, topic)
}

func (a *App) setupPipeline() {
	workers := make([]*worker.Worker, 0, a.cfg.Save.Workers)
	for i := 0; i < a.cfg.Save.Workers; i++ {
		workers = append(workers, worker.New(a.queue, a.manager, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatch.AddWorkers(workers...)
	a.sweeper = dispatcher.NewSweeper(a.manager, a.cfg.Save.RefreshInterval, a.logger.Named("sweeper"))
	a.logger.Info("refresh pipeline configured",
		zap.Int("workers", a.cfg.Save.Workers),
		zap.Int("queue_depth", a.cfg.Save.QueueDepth),
		zap.Duration("refresh_interval", a.cfg.Save.RefreshInterval),
	)
}

func (a *App) setupStorage(ctx context.Context) (exporter.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS export backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local export backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory export backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupAPI() *api.Server {
	var limiter *ratelimit.Limiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
		a.limiter = limiter
		a.logger.Info("submission throttling enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
		)
	}
	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	opts := api.Options{
		Service: a.manager,
		Limiter: limiter,
		APIKey:  apiKey,
		Logger:  a.logger.Named("api"),
	}
	if a.ingestor != nil {
		opts.Webhooks = a.ingestor
	}
	if a.broadcaster != nil {
		opts.Events = a.broadcaster
	}
	return api.NewServer(opts)
}

// Manager exposes the lifecycle manager for management commands.
func (a *App) Manager() *manager.Manager { return a.manager }

// Exporter exposes the request exporter.
func (a *App) Exporter() *exporter.Exporter { return a.exporter }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Migrate applies the store schema. The memory store needs none.
func (a *App) Migrate(ctx context.Context) error {
	if a.migrator == nil {
		return nil
	}
	if err := a.migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate request store: %w", err)
	}
	return nil
}
