package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"twinsong/internal/adapter/handler"
	"twinsong/internal/audit"
	"twinsong/internal/handshake"
	"twinsong/internal/infrastructure/config"
	"twinsong/internal/infrastructure/database"
	"twinsong/internal/infrastructure/logger"
	"twinsong/internal/infrastructure/server"
	"twinsong/internal/kernel"
	"twinsong/internal/reactor"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(&cfg.Log)
	log.Info().Msg("starting twinsong...")

	auditLog := audit.Disabled()
	if cfg.Audit.Enabled {
		db, err := database.Init(&cfg.Audit)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect audit database; continuing without it")
		} else if auditLog, err = audit.NewFromDB(db); err != nil {
			log.Warn().Err(err).Msg("failed to migrate audit schema; continuing without it")
			auditLog = audit.Disabled()
		}
	}
	defer database.Close()

	if err := os.MkdirAll(cfg.Storage.RootDir, 0755); err != nil {
		log.Fatal().Err(err).Str("root_dir", cfg.Storage.RootDir).Msg("failed to create storage root")
	}

	var handshakeManager *handshake.Manager
	if cfg.Handshake.Secret != "" {
		handshakeManager = handshake.NewManager(cfg.Handshake.Secret, cfg.Handshake.GetTTL())
	}

	if cfg.Kernel.PythonPath != "" && os.Getenv("TWINSONG_PYTHON") == "" {
		os.Setenv("TWINSONG_PYTHON", cfg.Kernel.PythonPath)
	}

	appState := reactor.New(cfg.Storage.RootDir, auditLog, logger.NewLogger("reactor"))

	supervisor, err := kernel.NewSupervisor(appState, cfg.Kernel.WorkerArgs, logger.NewLogger("kernel_supervisor"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start kernel supervisor")
	}
	appState.AttachSupervisor(supervisor)

	kernelHandler := handler.NewKernelHandler(appState, handshakeManager)

	srv := server.New(&cfg.Server)
	handler.RegisterRoutes(srv.Router(), kernelHandler)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := supervisor.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close kernel listener")
	}

	log.Info().Msg("twinsong exited")
}
