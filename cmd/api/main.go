package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskforge/pkg/api"
	"taskforge/pkg/auth"
	"taskforge/pkg/logger"
	"taskforge/pkg/observability"
	"taskforge/pkg/storage/postgres"
	"taskforge/pkg/storage/redis"

	config "taskforge/configs"
)

func main() {
	cfg := config.Load()

	logCfg := logger.DefaultConfig("taskforge-api")
	logCfg.Level = cfg.LogLevel
	log, err := logger.Init(logCfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg := observability.DefaultConfig("taskforge-api")
	traceCfg.Enabled = cfg.TracingEnabled
	traceCfg.Endpoint = cfg.OTLPEndpoint
	tracing, err := observability.Init(ctx, traceCfg)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

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

	serverCfg := api.Config{
		Port:        cfg.APIPort,
		Jobs:        store,
		Schedules:   store,
		Workers:     store,
		DeadLetters: store,
		Webhooks:    store,
		Queue:       queue,
		DB:          store,
		Tracing:     cfg.TracingEnabled,
	}
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtService, err := auth.NewJWTService(jwtCfg)
		if err != nil {
			log.Fatal("failed to initialize JWT service", zap.Error(err))
		}
		serverCfg.JWTService = jwtService
		serverCfg.APIKeyStore = auth.NewRedisAPIKeyStore(queue.Client())
	} else {
		log.Warn("JWT_SECRET not set, API authentication disabled")
	}

	server := api.NewServer(serverCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
