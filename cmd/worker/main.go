package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/models"
	"taskforge/pkg/observability"
	"taskforge/pkg/processor"
	"taskforge/pkg/storage"
	"taskforge/pkg/storage/postgres"
	"taskforge/pkg/storage/redis"
	"taskforge/pkg/webhook"
	"taskforge/pkg/worker"

	config "taskforge/configs"

	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	logCfg := logger.DefaultConfig("taskforge-worker")
	logCfg.Level = cfg.LogLevel
	log, err := logger.Init(logCfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg := observability.DefaultConfig("taskforge-worker")
	traceCfg.Enabled = cfg.TracingEnabled
	traceCfg.Endpoint = cfg.OTLPEndpoint
	tracing, err := observability.Init(ctx, traceCfg)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background())

	store, err := postgres.NewStore(cfg.DSN())
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	queue, err := redis.NewQueueManager(cfg.RedisAddr())
	if err != nil {
		log.Fatal("failed to initialize queue", zap.Error(err))
	}
	defer queue.Close()

	archive := buildArchive(ctx, cfg, log)

	dispatcher := webhook.NewDispatcher(webhook.Config{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
	}, store)

	registry := processor.NewRegistry()
	registerHandlers(registry)

	proc := processor.New(store, store, queue, registry, archive, dispatcher)

	hostname, _ := os.Hostname()
	workerCfg := worker.Config{
		Name:              fmt.Sprintf("worker-%s-%s", hostname, uuid.NewString()[:8]),
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PromoteInterval:   cfg.PromoteInterval,
	}
	w := worker.New(workerCfg, store, store, queue, proc)
	if err := w.Register(ctx); err != nil {
		log.Fatal("failed to register worker", zap.Error(err))
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		log.Error("worker exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildArchive selects the dead letter archive backend. S3 when a bucket is
// configured, local disk otherwise.
func buildArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) storage.ArchiveStore {
	if cfg.ArchiveBucket != "" {
		s3Store, err := storage.NewS3ArchiveStore(ctx, storage.S3ArchiveConfig{
			Bucket:        cfg.ArchiveBucket,
			Prefix:        "deadletter/",
			Region:        cfg.ArchiveRegion,
			Endpoint:      cfg.ArchiveEndpoint,
			LocalCacheDir: cfg.ArchiveLocalDir,
		})
		if err != nil {
			log.Warn("failed to initialize S3 archive, falling back to local", zap.Error(err))
		} else {
			return s3Store
		}
	}
	local, err := storage.NewLocalArchiveStore(cfg.ArchiveLocalDir)
	if err != nil {
		log.Warn("failed to initialize local archive, post-mortems disabled", zap.Error(err))
		return nil
	}
	return local
}

// registerHandlers binds the built-in job types. Deployments extend this
// with their own handlers.
func registerHandlers(registry *processor.Registry) {
	registry.Register("noop", func(ctx context.Context, job *models.Job) (models.JSONDoc, error) {
		return models.JSONDoc{"ok": true}, nil
	})
}
