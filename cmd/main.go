package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/config"
	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/logger"
	"github.com/kkkkikiki/leadpool/internal/server"
)

func main() {
	ctx := context.Background()

	// Load configuration from .env and environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Get().Fatal("Failed to load config", zap.Error(err))
	}

	level := cfg.App.LogLevel
	if cfg.App.Debug {
		level = "debug"
	}
	log := logger.Init(cfg.App.Environment, level, cfg.App.LogFormat)
	defer logger.Sync()

	log.Info("Starting leadpool service",
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Driver),
	)

	// Open the store and build the services
	f, err := factory.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer f.Close()

	srv := server.New(cfg.Server, server.NewRouter(f, log))

	// Start server in goroutine
	go func() {
		log.Info("Listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}
