// Package app builds and holds the long-lived services of the harvester,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/cache"
	"github.com/JakeFAU/keyword-harvester/internal/clock/system"
	"github.com/JakeFAU/keyword-harvester/internal/collector"
	"github.com/JakeFAU/keyword-harvester/internal/collector/discord"
	"github.com/JakeFAU/keyword-harvester/internal/collector/imageboard"
	"github.com/JakeFAU/keyword-harvester/internal/config"
	"github.com/JakeFAU/keyword-harvester/internal/dispatcher"
	"github.com/JakeFAU/keyword-harvester/internal/events"
	eventsinks "github.com/JakeFAU/keyword-harvester/internal/events/sinks"
	"github.com/JakeFAU/keyword-harvester/internal/harvest"
	"github.com/JakeFAU/keyword-harvester/internal/hash/sha256"
	"github.com/JakeFAU/keyword-harvester/internal/id/uuid"
	"github.com/JakeFAU/keyword-harvester/internal/logging"
	"github.com/JakeFAU/keyword-harvester/internal/metrics"
	"github.com/JakeFAU/keyword-harvester/internal/policy/breaker"
	"github.com/JakeFAU/keyword-harvester/internal/policy/pipeline"
	queuememory "github.com/JakeFAU/keyword-harvester/internal/queue/memory"
	"github.com/JakeFAU/keyword-harvester/internal/storage/memory"
	"github.com/JakeFAU/keyword-harvester/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	redis      redis.UniversalClient
	hub        *events.Hub
	pipelines  *pipeline.Registry
	registry   *collector.Registry
	collectors map[string]collector.Collector
	queue      *queuememory.Queue
	dispatch   *dispatcher.Dispatcher
	metricsSrv *http.Server

	closeOnce sync.Once
}

// Build creates the application's dependencies from cfg. A nil logger builds
// one from cfg.Logging.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	metrics.Init()

	app := &App{
		cfg:        cfg,
		logger:     logger,
		collectors: make(map[string]collector.Collector),
	}
	app.logger.Info("building application dependencies",
		zap.Strings("sources", cfg.SourceNames()),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("breaker_backend", cfg.Breaker.Backend),
	)

	if err := app.setupRedis(ctx); err != nil {
		return nil, err
	}
	app.setupEvents()

	var breakerStore breaker.Store = breaker.NewMemoryStore()
	if cfg.Breaker.Backend == config.BackendRedis {
		breakerStore = breaker.NewRedisStore(app.redis, "")
	}
	app.pipelines = pipeline.NewRegistry(breakerStore, logger)

	var cacheStore cache.Store = cache.NewMemoryStore()
	if cfg.Cache.Backend == config.BackendRedis {
		cacheStore = cache.NewRedisStore(app.redis, "")
	}

	if err := app.setupCollectors(cacheStore); err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.setupDispatcher()
	return app, nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if !a.cfg.UsesRedis() {
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		_ = a.redis.Close()
		return fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Address, err)
	}
	a.logger.Info("redis connected", zap.String("address", a.cfg.Redis.Address), zap.Int("db", a.cfg.Redis.DB))
	return nil
}

func (a *App) setupEvents() {
	sinkList := []events.Sink{eventsinks.NewLogSink(a.logger.Named("events"))}
	if a.cfg.Events.RedisStream != "" {
		sinkList = append(sinkList,
			eventsinks.NewRedisStreamSink(a.redis, a.cfg.Events.RedisStream, a.cfg.Events.RedisStreamMaxLen))
		a.logger.Debug("added redis stream sink", zap.String("stream", a.cfg.Events.RedisStream))
	}
	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait,
		Logger:         a.logger.Named("events_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
}

// NewRegistry returns a collector registry with every built-in source.
func NewRegistry() *collector.Registry {
	r := collector.NewRegistry()
	// Built-in names are distinct, so registration cannot fail.
	_ = r.Register(discord.Name, discord.Factory)
	_ = r.Register(imageboard.Name, imageboard.Factory)
	return r
}

func (a *App) setupCollectors(store cache.Store) error {
	a.registry = NewRegistry()
	clock := system.New()
	hasher := sha256.New()
	for _, name := range a.cfg.SourceNames() {
		sc := a.cfg.Sources[name]
		if !sc.Enabled {
			a.logger.Info("source disabled", zap.String("source", name))
			continue
		}
		c, err := a.registry.New(collector.Env{
			Name:       name,
			Source:     sc,
			HTTP:       a.cfg.HTTP,
			Pipelines:  a.pipelines,
			CacheStore: store,
			Events:     a.hub,
			Logger:     a.logger,
			Clock:      clock,
			Hasher:     hasher,
		})
		if err != nil {
			return fmt.Errorf("collector %s: %w", name, err)
		}
		a.collectors[name] = c
		a.logger.Info("collector ready",
			zap.String("source", name),
			zap.String("limiter", sc.Limiter),
			zap.Int("rate_limit", sc.RateLimit),
			zap.String("fallback", sc.Fallback),
		)
	}
	if len(a.collectors) == 0 {
		return errors.New("no enabled sources")
	}
	return nil
}

func (a *App) setupDispatcher() {
	a.queue = queuememory.NewQueue(a.cfg.Worker.QueueDepth)
	jobStore := memory.NewJobStore()
	clock := system.New()
	workers := make([]*worker.Worker, a.cfg.Worker.Concurrency)
	for i := range workers {
		workers[i] = worker.New(a.queue, jobStore, a, a.hub, clock,
			a.logger.Named("worker").With(zap.Int("worker", i)))
	}
	a.dispatch = dispatcher.New(a.queue, jobStore, uuid.New(), clock, workers)
	a.logger.Info("worker pool configured",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Int("queue_depth", a.cfg.Worker.QueueDepth),
	)
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the job dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Harvest runs reqs on the worker pool and returns the finished jobs in
// request order. Start must have been called.
func (a *App) Harvest(ctx context.Context, reqs []harvest.Request) ([]harvest.Job, error) {
	jobs, err := a.dispatch.Harvest(ctx, reqs)
	if err != nil {
		return jobs, fmt.Errorf("harvest: %w", err)
	}
	return jobs, nil
}

// Events returns the structured event emitter.
func (a *App) Events() events.Emitter {
	return a.hub
}

// Collector returns the running collector for source.
func (a *App) Collector(source string) (collector.Collector, error) {
	c, ok := a.collectors[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", collector.ErrUnknownSource, source)
	}
	return c, nil
}

// Sources lists the enabled sources.
func (a *App) Sources() []string {
	names := make([]string, 0, len(a.collectors))
	for _, name := range a.cfg.SourceNames() {
		if _, ok := a.collectors[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Start launches the worker pool and, when configured, the metrics endpoint.
// Both stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	go func() {
		a.logger.Debug("dispatcher started")
		a.dispatch.Run(ctx)
	}()
	if a.cfg.Metrics.Address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("address", a.cfg.Metrics.Address))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Close gracefully shuts down the application. It is safe to call more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		if a.metricsSrv != nil {
			if err := a.metricsSrv.Shutdown(ctx); err != nil {
				a.logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}
		for name, c := range a.collectors {
			if err := c.Close(); err != nil {
				a.logger.Warn("collector close failed", zap.String("source", name), zap.Error(err))
			}
		}
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				a.logger.Warn("event hub close failed", zap.Error(err))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("redis client close failed", zap.Error(err))
			}
		}
		a.logger.Info("shutdown complete")
		// Best effort; syncing stderr fails on some platforms.
		_ = a.logger.Sync()
	})
}
