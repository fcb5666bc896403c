package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/system"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	configPath := os.Getenv("SIG_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is the development default or too short",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}

	logger.Info("Config loaded successfully", zap.String("path", configPath))

	ctx := context.Background()
	db, err := storage.NewPostgresClient(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	lifecycle := system.NewLifecycleManager(db, cfg, logger)

	if err := lifecycle.Start(ctx); err != nil {
		shutdown(lifecycle, cfg, logger)
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		if err := shutdown(lifecycle, cfg, logger); err != nil {
			os.Exit(1)
		}
	case <-lifecycle.Done():
		// shut down through the API
	}

	logger.Info("SensorIntegration stopped")
}

func shutdown(lm *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lm.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
