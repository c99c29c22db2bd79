// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/api"
	"github.com/JakeFAU/crawl-dispatcher/internal/clock/system"
	"github.com/JakeFAU/crawl-dispatcher/internal/config"
	"github.com/JakeFAU/crawl-dispatcher/internal/crawl"
	"github.com/JakeFAU/crawl-dispatcher/internal/dispatcher"
	"github.com/JakeFAU/crawl-dispatcher/internal/executor"
	collyfetcher "github.com/JakeFAU/crawl-dispatcher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawl-dispatcher/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-dispatcher/internal/headless/detector"
	"github.com/JakeFAU/crawl-dispatcher/internal/hash/sha256"
	"github.com/JakeFAU/crawl-dispatcher/internal/id/uuid"
	"github.com/JakeFAU/crawl-dispatcher/internal/logging"
	"github.com/JakeFAU/crawl-dispatcher/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-dispatcher/internal/policy/retry"
	memorypublisher "github.com/JakeFAU/crawl-dispatcher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-dispatcher/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-dispatcher/internal/recovery"
	gcsstorage "github.com/JakeFAU/crawl-dispatcher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-dispatcher/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-dispatcher/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-dispatcher/internal/storage/postgres"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
	"github.com/JakeFAU/crawl-dispatcher/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           taskqueue.Clock
	tasks           taskqueue.TaskStore
	accounts        taskqueue.AccountPool
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	sweeper         *recovery.Sweeper
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	renderer        *headlessfetcher.Fetcher
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	// Everything after this point may hold connections; release them on error.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	if err := setupStores(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	client, err := setupCrawler(app)
	if err != nil {
		return nil, err
	}

	exec := setupExecutor(app, client, blobStore, publisher)
	app.dispatch = dispatcher.New(app.tasks, app.accounts, exec, dispatcher.Config{
		Interval: cfg.DispatchInterval(),
		Enabled:  cfg.Dispatcher.Enabled,
	}, logger)
	app.sweeper = recovery.NewSweeper(app.accounts, app.clock, recovery.Config{
		Interval:  cfg.RecoveryInterval(),
		Threshold: cfg.RecoveryThreshold(),
	}, logger)

	deps := api.Deps{
		Tasks:      app.tasks,
		Accounts:   app.accounts,
		Dispatcher: app.dispatch,
		Sweeper:    app.sweeper,
		IDs:        uuid.New(),
		Clock:      app.clock,
	}
	if app.pool != nil {
		deps.Ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(deps, cfg.Auth, logger)

	ok = true
	return app, nil
}

// Sweeper exposes the account recovery sweeper for one-shot CLI use.
func (a *App) Sweeper() *recovery.Sweeper {
	return a.sweeper
}

// Run starts the dispatcher, the recovery sweeper and the HTTP server, and
// blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loops := make(chan struct{}, 2)
	go func() {
		a.dispatch.Run(ctx)
		loops <- struct{}{}
	}()
	go func() {
		a.sweeper.Run(ctx)
		loops <- struct{}{}
	}()

	srv := &http.Server{
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

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-loops
	<-loops
	a.drain(shutdownCtx)

	return a.Close(shutdownCtx)
}

// drain waits for in-flight executions. Their context is already canceled, so
// each one pauses its task and returns.
func (a *App) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.dispatch.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("in-flight executions drained")
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout reached with executions still running")
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

func setupStores(ctx context.Context, app *App) error {
	dbCfg := app.cfg.Database
	if dbCfg.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory task and account stores")
		app.tasks = memorystorage.NewTaskStore(app.clock)
		app.accounts = memorystorage.NewAccountPool(app.clock)
		return nil
	}
	pgCfg := pgstore.Config{
		DSN:             dbCfg.DSN,
		TaskTable:       dbCfg.TaskTable,
		AccountTable:    dbCfg.AccountTable,
		MaxConns:        dbCfg.MaxConns,
		MinConns:        dbCfg.MinConns,
		MaxConnLifetime: time.Duration(dbCfg.MaxConnLifetimeMinutes) * time.Minute,
	}
	var err error
	app.pool, err = pgstore.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	if dbCfg.Migrate {
		if err := pgstore.Migrate(ctx, app.pool, pgCfg); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("postgres schema ensured",
			zap.String("task_table", dbCfg.TaskTable),
			zap.String("account_table", dbCfg.AccountTable),
		)
	}
	if app.tasks, err = pgstore.NewTaskStore(app.pool, dbCfg.TaskTable, app.clock); err != nil {
		return fmt.Errorf("task store init failed: %w", err)
	}
	if app.accounts, err = pgstore.NewAccountPool(app.pool, dbCfg.AccountTable, app.clock); err != nil {
		return fmt.Errorf("account pool init failed: %w", err)
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (taskqueue.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (taskqueue.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	if err := gcppublisher.VerifyTopic(ctx, app.pubsubClient, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName); err != nil {
		return nil, err
	}
	raw := app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	raw.EnableMessageOrdering = true
	app.pubsubPublisher = gcppublisher.New(raw)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupCrawler(app *App) (*crawl.Client, error) {
	cfg := app.cfg
	fetcher := retry.Wrap(collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.CrawlTimeout(),
	}), retry.NewPolicy(retry.Config{MaxAttempts: cfg.Crawl.MaxAttempts}), app.logger)
	var renderer crawl.Fetcher
	if cfg.Headless.Enabled || cfg.Crawl.RenderProfiles {
		var err error
		app.renderer, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		renderer = app.renderer
		app.logger.Info("headless renderer ready",
			zap.Bool("render_all_profiles", cfg.Crawl.RenderProfiles),
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
		)
	}
	pacer := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Burst:             cfg.Crawl.Burst,
	})
	client, err := crawl.NewClient(crawl.Config{
		BaseURL:        cfg.Crawl.BaseURL,
		PageSize:       cfg.Crawl.PageSize,
		UserAgent:      cfg.Crawl.UserAgent,
		RenderProfiles: cfg.Crawl.RenderProfiles,
	}, fetcher, renderer, pacer, app.logger)
	if err != nil {
		return nil, fmt.Errorf("crawl client init failed: %w", err)
	}
	if cfg.Headless.Enabled {
		client.PromoteWith(detector.NewHeuristic(cfg.Headless.PromotionThresh))
	}
	app.logger.Info("crawl client ready",
		zap.String("base_url", cfg.Crawl.BaseURL),
		zap.Float64("requests_per_second", cfg.Crawl.RequestsPerSecond),
	)
	return client, nil
}

func setupExecutor(
	app *App,
	client executor.Crawler,
	blobs taskqueue.BlobStore,
	publisher taskqueue.Publisher,
) *executor.Executor {
	cfg := app.cfg
	exec := executor.New(app.tasks, app.accounts, blobs, publisher, sha256.New(), app.clock, executor.Config{
		ResultPrefix: cfg.Storage.Prefix,
		Topic:        cfg.PubSub.TopicName,
	}, app.logger)
	paged := map[taskqueue.TaskType]crawl.Kind{
		taskqueue.TypeFollowers: crawl.KindFollowers,
		taskqueue.TypeFollowing: crawl.KindFollowing,
		taskqueue.TypeMedia:     crawl.KindMedia,
	}
	for taskType, kind := range paged {
		exec.Register(taskType, executor.PagedStrategy{
			Kind:     kind,
			Client:   client,
			Blobs:    blobs,
			Prefix:   cfg.Storage.Prefix,
			Ratio:    cfg.Crawl.CloseEnoughRatio,
			MaxPages: cfg.Crawl.MaxPages,
		})
	}
	exec.Register(taskqueue.TypeProfile, executor.ProfileStrategy{Client: client})
	return exec
}
