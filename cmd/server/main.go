package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos/internal/config"
	"pos/internal/db"
	"pos/internal/handlers"
	"pos/internal/idempotency"
	"pos/internal/jobs"
	"pos/internal/logx"
	"pos/internal/middleware"
	"pos/internal/models"
	"pos/internal/services"
	"pos/internal/store"
	"pos/internal/websocket"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := logx.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logx.Sync()
	logger := logx.L()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idem, closeIdem, err := idempotency.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyTTL)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer func() { _ = closeIdem() }()

	rateLimiter, err := middleware.NewLimiter(cfg.RateUpdateLimit)
	if err != nil {
		logger.Fatal("invalid RATE_UPDATE_LIMIT", zap.String("value", cfg.RateUpdateLimit), zap.Error(err))
	}

	users := store.NewUserStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	rates := store.NewRateStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	defaultPair := models.NewCurrencyPair(cfg.DefaultFromCurrency, cfg.DefaultToCurrency)
	service := services.NewRateService(txRunner, rates, audit, hub, defaultPair, cfg.HistoryLimit)

	sweep := jobs.NewRepairSweep(service, cfg.RepairSweepInterval)
	if err := sweep.Start(ctx); err != nil {
		logger.Fatal("failed to start repair sweep", zap.Error(err))
	}

	handler := handlers.New(cfg, txRunner, database, users, admin, audit, service, hub, idem, rateLimiter)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("pos rates API listening",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("default_pair", defaultPair.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sweep.Shutdown(); err != nil {
		logger.Error("repair sweep shutdown error", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}
