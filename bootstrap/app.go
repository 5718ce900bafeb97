// Package bootstrap wires the application components together and
// manages their lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"argus/config"
	"argus/ingest"
	"argus/queue"
	"argus/repair"
	"argus/search"
	"argus/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App holds every wired component of the service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Engine    *storage.Elastic
	FileStore *storage.SQLiteFileStore
	TaskQueue *queue.TaskQueue

	Gate     *ingest.Gate
	Pipeline *ingest.Pipeline
	Workers  *queue.Pool
	Executor *search.Executor
	Sweeper  *repair.Sweeper

	metricsServer *http.Server
	shutdownCh    chan struct{}
}

// NewApp creates an application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{shutdownCh: make(chan struct{})}

	logger, sugar, err := InitLogger(os.Getenv("ARGUS_LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus case event store starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := os.MkdirAll(cfg.DataPaths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	uploadDir := filepath.Join(cfg.DataPaths.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	fileStore, err := storage.NewSQLiteFileStore(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("initialize file store: %w", err)
	}
	app.FileStore = fileStore

	engine, err := storage.NewElastic(
		cfg.Elasticsearch.Addresses,
		cfg.Elasticsearch.Username,
		cfg.Elasticsearch.Password,
		cfg.EngineTimeout(),
		sugar,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize search engine: %w", err)
	}
	app.Engine = engine

	taskQueue := queue.NewTaskQueue(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		sugar,
	)
	if err := taskQueue.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	app.TaskQueue = taskQueue

	gate, err := ingest.NewGate(engine, sugar)
	if err != nil {
		return nil, fmt.Errorf("initialize compatibility gate: %w", err)
	}
	app.Gate = gate

	app.Pipeline = ingest.NewPipeline(engine, fileStore, gate, nil, nil, cfg.Ingest.BulkSize, sugar)

	source := ingest.NewFileRecordSource(fileStore, uploadDir, sugar)
	app.Workers = queue.NewPool(taskQueue, source, app.Pipeline, cfg.Ingest.Workers, sugar)

	app.Executor = search.NewExecutor(engine, cfg.ScrollKeepAlive(), sugar)

	if cfg.Repair.Enabled {
		repairer := repair.NewRepairer(engine, fileStore, taskQueue, cfg.Repair.DryRun, sugar)
		app.Sweeper = repair.NewSweeper(repairer, cfg.RepairInterval(), sugar)
	}

	return app, nil
}

// Start launches the background services.
func (a *App) Start(ctx context.Context) error {
	a.Workers.Start()
	if a.Sweeper != nil {
		a.Sweeper.Start()
	}
	if a.Config.Metrics.Enabled {
		a.startMetricsServer()
	}
	a.Sugar.Infow("Argus started",
		"workers", a.Config.Ingest.Workers,
		"repair_enabled", a.Config.Repair.Enabled,
		"repair_dry_run", a.Config.Repair.DryRun)
	return nil
}

func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Metrics.Port),
		Handler: mux,
	}
	go func() {
		a.Sugar.Infow("Metrics endpoint listening", "port", a.Config.Metrics.Port)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("Metrics server failed", "error", err)
		}
	}()
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
}

// Shutdown stops services in dependency order and closes connections.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Workers != nil {
		a.Workers.Stop()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("Metrics server shutdown failed", "error", err)
		}
	}
	if a.TaskQueue != nil {
		if err := a.TaskQueue.Close(); err != nil {
			a.Sugar.Warnw("Redis close failed", "error", err)
		}
	}
	if a.FileStore != nil {
		if err := a.FileStore.Close(); err != nil {
			a.Sugar.Warnw("File store close failed", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
