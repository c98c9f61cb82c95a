package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/env"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/settings"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/nantokaworks/guild-raffle/internal/shared/paths"
	"github.com/nantokaworks/guild-raffle/internal/version"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger.Init(false)
	defer logger.Sync()

	logger.Info("Starting guild-raffle server", zap.String("version", version.String()))

	dataDir, dbPath := env.StoragePaths()
	if dataDir != "" {
		paths.SetDataDir(dataDir)
	}
	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}
	if dbPath == "" {
		dbPath = paths.GetDBPath()
	}
	if _, err := localdb.SetupDB(dbPath); err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer func() {
		if err := localdb.CloseDB(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}()

	sm := settings.NewSettingsManager(localdb.GetDB())
	if err := sm.MigrateFromEnv(); err != nil {
		logger.Warn("Failed to migrate settings from environment", zap.Error(err))
	}
	if err := sm.InitializeDefaultSettings(); err != nil {
		logger.Warn("Failed to initialize default settings", zap.Error(err))
	}

	// env.LoadEnv must run after DB initialization.
	env.LoadEnv()
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	app, err := newApp(env.Value)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	port := 8080
	if env.Value.ServerPort != 0 {
		port = env.Value.ServerPort
	}
	if err := app.start(port); err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/", port)),
		zap.Bool("chat", env.Value.ChatEnabled()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(ctx)

	logger.Info("Shutdown complete")
}
