package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"taskforge/pkg/coordination/etcd"
	"taskforge/pkg/logger"
	"taskforge/pkg/observability"
	"taskforge/pkg/recovery"
	"taskforge/pkg/scheduler"
	"taskforge/pkg/storage/postgres"
	"taskforge/pkg/storage/redis"
	"taskforge/pkg/webhook"

	config "taskforge/configs"

	"github.com/google/uuid"
)

// The scheduler binary hosts the singleton loops: the schedule executor,
// orphan recovery, and the webhook retrier. etcd leader election guarantees
// only one instance runs them; standbys block in Campaign until the leader
// dies or resigns.
func main() {
	cfg := config.Load()

	logCfg := logger.DefaultConfig("taskforge-scheduler")
	logCfg.Level = cfg.LogLevel
	log, err := logger.Init(logCfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg := observability.DefaultConfig("taskforge-scheduler")
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
	log.Info("postgres connected, schema migrated")

	queue, err := redis.NewQueueManager(cfg.RedisAddr())
	if err != nil {
		log.Fatal("failed to initialize queue", zap.Error(err))
	}
	defer queue.Close()
	log.Info("redis connected")

	coordinator, err := etcd.NewCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer coordinator.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler-" + uuid.NewString()
	}
	election := coordinator.NewElection("taskforge-scheduler")

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("campaigning for leadership", zap.String("candidate", hostname))
	if err := election.Campaign(ctx, hostname); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown during campaign")
			return
		}
		log.Fatal("election campaign failed", zap.Error(err))
	}
	log.Info("leadership acquired")

	executor := scheduler.New(store, store, queue, cfg.SchedulerCheckInterval)
	recoverer := recovery.New(recovery.Config{
		CheckInterval:  cfg.OrphanCheckInterval,
		StaleThreshold: cfg.OrphanStaleThreshold,
		RecoveryDelay:  cfg.OrphanRecoveryDelay,
		PageSize:       100,
	}, store, store, queue)
	dispatcher := webhook.NewDispatcher(webhook.Config{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
	}, store)
	retrier := webhook.NewRetrier(webhook.RetrierConfig{
		Interval:  cfg.WebhookRetryInterval,
		BaseDelay: cfg.WebhookRetryBase,
		MaxDelay:  webhook.DefaultRetrierConfig().MaxDelay,
		BatchSize: webhook.DefaultRetrierConfig().BatchSize,
	}, store, dispatcher)

	go executor.Run(ctx)
	go recoverer.Run(ctx)
	go retrier.Run(ctx)

	<-ctx.Done()

	// Resign so a standby takes over without waiting for the lease TTL.
	if err := election.Resign(context.Background()); err != nil {
		log.Warn("failed to resign leadership", zap.Error(err))
	} else {
		log.Info("leadership resigned")
	}
	log.Info("shutdown complete")
}
