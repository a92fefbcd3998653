package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developers-live/live-session/internal/config"
	"github.com/developers-live/live-session/internal/events"
	"github.com/developers-live/live-session/internal/handlers"
	httpx "github.com/developers-live/live-session/internal/http"
	"github.com/developers-live/live-session/internal/logger"
	"github.com/developers-live/live-session/internal/provisioner"
	"github.com/developers-live/live-session/internal/repo"
	"github.com/developers-live/live-session/internal/service"
	"github.com/developers-live/live-session/internal/tracing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		lg.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		lg.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	lg.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))

	db, err := repo.OpenPostgres(cfg.Database.DSN, lg)
	if err != nil {
		lg.Fatal("Failed to connect to schedule database", zap.Error(err))
	}

	keys := repo.Keys{Prefix: cfg.Redis.KeyPrefix}
	sessions := repo.NewRedisSessionRepo(rdb, keys, tracing.Tracer("live-session/repo"))
	schedules := repo.NewGormScheduleRepo(db)
	bus := events.NewRedisBus(rdb, keys, lg.Named("events"))

	daily := provisioner.NewDailyClient(provisioner.Options{
		BaseURL: cfg.Provisioner.APIURL,
		APIKey:  cfg.Provisioner.APIKey,
		RoomTTL: cfg.Provisioner.RoomTTL,
		Timeout: cfg.Provisioner.Timeout,
		Rate:    cfg.Provisioner.Rate,
		Burst:   cfg.Provisioner.Burst,
	}, lg.Named("daily"))

	svc := service.NewSessionService(sessions, schedules, daily, bus, service.Options{
		OracleTimeout:    cfg.Registry.OracleTimeout,
		ProvisionTimeout: cfg.Provisioner.Timeout,
		LockTTL:          cfg.Registry.LockTTL,
		LockWaitTimeout:  cfg.Registry.LockWaitTimeout,
	}, lg.Named("sessions"))

	sweeper := service.NewOrphanSweeper(sessions, daily, cfg.Registry.OrphanSweepInterval, cfg.Provisioner.Timeout, lg.Named("sweeper"))
	go sweeper.Start(ctx)

	router := httpx.NewRouter(
		handlers.NewSessionHandler(svc, lg),
		handlers.NewEventStreamHandler(bus, cfg.AllowedOrigin, lg.Named("ws")),
		handlers.NewHealthHandler(sessions, lg),
		cfg.AllowedOrigin,
		lg.Named("http"),
	)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		lg.Info("Listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("Shutdown signal received, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server shutdown error", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		lg.Error("Tracer shutdown error", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	lg.Info("Server stopped")
}
