package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"launchpad/internal/config"
	"launchpad/internal/feed"
	"launchpad/internal/httpapi"
	"launchpad/internal/httpapi/handlers"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/pkg/shutdown"
	"launchpad/internal/repositories"
	"launchpad/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Format:      cfg.Service.LogFormat,
		ServiceName: cfg.Service.Name + "-api",
		AddSource:   os.Getenv("LOG_SOURCE") == "true",
	})

	log.Info("starting launchpad API",
		"store", cfg.Store.Driver,
		"feed", cfg.Feed.Driver,
	)

	ctx := context.Background()

	shutdownMgr := shutdown.NewManager(log, cfg.Service.ShutdownTimeout)

	// Record store
	log.Info("opening record store", "driver", cfg.Store.Driver)
	store, err := repositories.Open(ctx, cfg.Store)
	if err != nil {
		log.LogFatal("failed to open record store", err)
	}
	shutdownMgr.Register("store", func(ctx context.Context) error {
		return store.Close()
	})
	log.Info("record store ready")

	// Object store holding the processing script
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// The API only writes to the store; with the redis driver it reports
	// the stream's health so operators see a stalled relay target.
	var feedProbe handlers.Pinger
	if cfg.Feed.Driver == config.FeedDriverRedis {
		rdb := redis.NewClient(&redis.Options{
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
		feedProbe = feed.NewRedisStream(rdb, feed.RedisStreamOptions{
			Stream: cfg.Feed.Stream,
			Group:  cfg.Feed.Group,
		}, log)
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:              store,
		Objects:            sp,
		Feed:               feedProbe,
		ScriptKey:          cfg.Launcher.ScriptKey,
		CallbackSecret:     cfg.Launcher.CallbackSecret,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		Log:                log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
