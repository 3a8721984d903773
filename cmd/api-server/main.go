package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/storage"
	"github.com/hackgods/clinic-booking/internal/uploads"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	storeCtx, cancelStore := context.WithTimeout(rootCtx, 30*time.Second)
	store, err := storage.Open(storeCtx, cfg, logger)
	cancelStore()
	if err != nil {
		logger.Fatal("storage init error", zap.Error(err))
	}
	defer store.Close()
	logger.Info("storage ready", zap.String("driver", store.Driver))

	// Slot lock: Redis when configured, in-process otherwise
	var rdb *redis.Client
	var locker redisclient.Locker
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
			Addr:        cfg.RedisAddr,
			Username:    cfg.RedisUsername,
			Password:    cfg.RedisPassword,
			DialTimeout: cfg.RedisDialTimeout,
			PoolSize:    cfg.RedisPoolSize,
		})
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		locker = redisclient.NewLocalLocker()
		logger.Info("redis not configured, using in-process slot lock")
	}

	files, err := uploads.NewStorage(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		logger.Fatal("upload dir error", zap.Error(err))
	}

	hub := api.NewEventHub(logger)

	svc := clinic.NewService(store, locker, logger, clinic.Options{
		ReleaseSlotOnReject: cfg.ReleaseSlotOnReject,
		Files:               files,
		Publisher:           hub,
	})

	authSvc := auth.NewService(store, cfg.JWTSecret, cfg.TokenTTL, logger)
	if err := authSvc.EnsureAdmin(rootCtx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Fatal("admin bootstrap error", zap.Error(err))
	}

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Auth:           authSvc,
		Uploads:        files,
		Hub:            hub,
		RateLimiter:    api.NewRateLimiter(rootCtx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		Store:          store,
		StoreName:      store.Driver,
		Redis:          rdb,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		TrustProxy:     cfg.TrustProxy,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	// websocket connections are hijacked, Shutdown does not wait for them
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
