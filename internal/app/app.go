// Package app initializes and holds the long-lived services of the crawl
// engine, acting as a dependency injection container. It is initialized
// once at startup and owns graceful shutdown of everything it built.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/api"
	"github.com/marketmap/shopcrawler/internal/clock/system"
	"github.com/marketmap/shopcrawler/internal/config"
	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/dedup"
	"github.com/marketmap/shopcrawler/internal/dispatcher"
	"github.com/marketmap/shopcrawler/internal/extract"
	collyfetcher "github.com/marketmap/shopcrawler/internal/fetcher/colly"
	headlessfetcher "github.com/marketmap/shopcrawler/internal/fetcher/headless"
	"github.com/marketmap/shopcrawler/internal/frontier"
	"github.com/marketmap/shopcrawler/internal/id/uuid"
	"github.com/marketmap/shopcrawler/internal/jobs"
	"github.com/marketmap/shopcrawler/internal/metrics"
	"github.com/marketmap/shopcrawler/internal/politeness"
	"github.com/marketmap/shopcrawler/internal/publish"
	"github.com/marketmap/shopcrawler/internal/storage"
	"github.com/marketmap/shopcrawler/internal/storage/gcs"
	"github.com/marketmap/shopcrawler/internal/storage/local"
	"github.com/marketmap/shopcrawler/internal/storage/memory"
	"github.com/marketmap/shopcrawler/internal/storage/postgres"
	"github.com/marketmap/shopcrawler/internal/worker"
)

// App holds all shared, long-lived services: the persistence stores, the
// frontier, the worker pool, the job controller, and the HTTP API.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	dedup     crawler.DedupStore
	publisher crawler.Publisher
	blobs     storage.BlobStore
	jobStore  crawler.JobStore
	sink      crawler.ResultSink

	frontier   *frontier.Frontier
	rate       *politeness.Controller
	controller *jobs.Controller
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
}

// New builds the full service graph from cfg. It reads the provider
// switches (dedup, store, publisher, snapshots) and instantiates the
// matching backends, failing fast if any critical service cannot start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()
	idGen := uuid.New()

	if err := a.initDedup(); err != nil {
		return nil, err
	}
	frontierStore, err := a.initStores(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.initSnapshots(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}

	a.rate = politeness.New(politeness.Config{
		Interval:         cfg.Crawler.PolitenessInterval(),
		ConcurrencyCap:   cfg.Crawler.DomainConcurrencyCap,
		FailureThreshold: cfg.Crawler.FailureThreshold,
		Cooldown:         cfg.Crawler.Cooldown(),
	}, clock, logger.Named("politeness"))

	a.frontier = frontier.New(a.dedup, a.rate, frontierStore, clock, idGen, frontier.Config{
		MaxRetries:   cfg.Crawler.MaxRetries,
		BackoffBase:  cfg.Crawler.RetryBackoffBase(),
		LeaseTimeout: cfg.Crawler.LeaseTimeout(),
	}, logger.Named("frontier"))

	a.controller = jobs.New(
		a.jobStore,
		a.sink,
		a.frontier,
		a.dedup,
		clock,
		idGen,
		jobs.Config{DefaultMaxDepth: cfg.Crawler.MaxDepth},
		logger.Named("jobs"),
	)

	fetcher := a.buildFetcher()
	extractor := extract.New()
	workerCfg := worker.Config{
		FetchTimeout: cfg.HTTP.FetchTimeout(),
		PollInterval: cfg.Crawler.PollInterval(),
	}
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		workers = append(workers, worker.New(
			a.frontier,
			fetcher,
			extractor,
			a.sink,
			a.publisher,
			a.blobs,
			a.jobStore,
			a.controller,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatcher = dispatcher.New(workers, logger.Named("dispatcher"))
	a.server = api.NewServer(a.controller, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("dedup", cfg.Dedup.Provider),
		zap.String("store", cfg.Store.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("snapshots", cfg.Snapshots.Provider),
		zap.Int("workers", cfg.Crawler.Workers),
	)
	return a, nil
}

func (a *App) initDedup() error {
	switch a.cfg.Dedup.Provider {
	case "redis":
		ttl := time.Duration(a.cfg.Dedup.TTLHours) * time.Hour
		a.logger.Info("using redis dedup store", zap.String("addr", a.cfg.Dedup.RedisAddr))
		a.dedup = dedup.NewRedisStore(a.cfg.Dedup.RedisAddr, "dedup", ttl)
	case "memory":
		a.dedup = dedup.NewMemoryStore()
	default:
		return fmt.Errorf("unknown dedup provider: %s", a.cfg.Dedup.Provider)
	}
	return nil
}

func (a *App) initStores(ctx context.Context) (frontier.Store, error) {
	switch a.cfg.Store.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres")
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: a.cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.pool = pool
		a.jobStore = postgres.NewJobStore(pool)
		a.sink = postgres.NewResultStore(pool)
		return postgres.NewFrontierStore(pool), nil
	case "memory":
		a.jobStore = memory.NewJobStore()
		a.sink = memory.NewResultStore()
		return memory.NewFrontierStore(), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", a.cfg.Store.Provider)
	}
}

func (a *App) initSnapshots(ctx context.Context) error {
	switch a.cfg.Snapshots.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: a.cfg.Snapshots.GCSBucket,
			Prefix: a.cfg.Snapshots.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs snapshots: %w", err)
		}
		a.logger.Info("using gcs snapshots", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
		a.blobs = store
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return fmt.Errorf("init local snapshots: %w", err)
		}
		a.blobs = store
	case "noop":
		a.logger.Info("snapshots disabled, page bodies will not be persisted")
		a.blobs = storage.NoopBlobStore{}
	default:
		return fmt.Errorf("unknown snapshots provider: %s", a.cfg.Snapshots.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "kafka":
		a.logger.Info("using kafka publisher",
			zap.String("broker", a.cfg.Publisher.KafkaBroker),
			zap.String("topic", a.cfg.Publisher.KafkaTopic),
		)
		a.publisher = publish.NewKafka(a.cfg.Publisher.KafkaBroker, a.cfg.Publisher.KafkaTopic)
	case "pubsub":
		a.logger.Info("using pubsub publisher",
			zap.String("project", a.cfg.Publisher.PubSubProject),
			zap.String("topic", a.cfg.Publisher.PubSubTopic),
		)
		pub, err := publish.NewPubSub(ctx, a.cfg.Publisher.PubSubProject, a.cfg.Publisher.PubSubTopic)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = pub
	case "noop":
		a.publisher = publish.NewNoop()
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) buildFetcher() crawler.Fetcher {
	if a.cfg.Headless.Enabled {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err == nil {
			a.logger.Info("using headless fetcher")
			return fetcher
		}
		a.logger.Warn("headless fetcher init failed, falling back to http fetcher", zap.Error(err))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.HTTP.FetchTimeout(),
	})
}

// Jobs exposes the job controller, the service behind the HTTP API.
func (a *App) Jobs() *jobs.Controller {
	return a.controller
}

// Handler returns the HTTP API handler, exposed for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// recoverWork reloads interrupted work from the configured store. Restore
// must complete before the dispatcher starts so restored entries cannot
// race fresh dequeues.
func (a *App) recoverWork(ctx context.Context) error {
	restored, err := a.frontier.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore frontier: %w", err)
	}
	resumed, err := a.controller.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	if restored > 0 || resumed > 0 {
		a.logger.Info("recovered interrupted work",
			zap.Int("entries", restored),
			zap.Int("jobs", resumed),
		)
	}
	return nil
}

// Run recovers interrupted work, then serves the API and the worker pool
// until ctx finishes.
func (a *App) Run(ctx context.Context) error {
	if err := a.recoverWork(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go a.controller.Run(runCtx)
	go a.frontier.Run(runCtx)
	go func() {
		a.logger.Info("dispatcher started")
		a.dispatcher.Run(runCtx)
	}()
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-runCtx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// RunWorker recovers interrupted work and runs the worker pool and job
// controller without the HTTP API. It serves deployments that scale
// fetch capacity separately from the submission surface; those must
// share a persistent store and dedup provider with the API process.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.recoverWork(ctx); err != nil {
		return err
	}
	go a.controller.Run(ctx)
	go a.frontier.Run(ctx)
	a.logger.Info("dispatcher started")
	a.dispatcher.Run(ctx)
	return nil
}

// Close gracefully shuts down the services the App owns.
func (a *App) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("error closing publisher", zap.Error(err))
	}
	if closer, ok := a.dedup.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("error closing dedup store", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr may be gone already.
		_ = err
	}
}
