package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"launchpad/internal/config"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/pkg/shutdown"
	"launchpad/internal/repositories"
	"launchpad/internal/storage"
	"launchpad/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Format:      cfg.Service.LogFormat,
		ServiceName: cfg.Service.Name + "-dispatcher",
		AddSource:   os.Getenv("LOG_SOURCE") == "true",
	})

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Service.ShutdownTimeout)

	store, err := repositories.Open(ctx, cfg.Store)
	if err != nil {
		log.LogFatal("failed to open record store", err)
	}
	shutdownMgr.Register("store", func(ctx context.Context) error {
		return store.Close()
	})

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	var rdb *redis.Client
	if cfg.Feed.Driver == config.FeedDriverRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
	}

	deps, err := worker.Setup(ctx, worker.SetupInput{
		Config:  cfg,
		Store:   store,
		Objects: sp,
		Redis:   rdb,
	}, log)
	if err != nil {
		log.LogFatal("failed to set up dispatcher", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	shutdownMgr.Register("dispatcher", func(ctx context.Context) error {
		cancel()
		select {
		case <-stopped:
		case <-ctx.Done():
		}
		return nil
	})

	failCtx, fail := context.WithCancelCause(ctx)
	go func() {
		err := worker.Run(runCtx, deps)
		close(stopped)
		if err != nil {
			fail(err)
		}
	}()

	shutdownMgr.WaitWithContext(failCtx)
	if err := context.Cause(failCtx); err != nil {
		log.LogFatal("dispatcher failed", err)
	}
}
