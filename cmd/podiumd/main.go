package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tracklab/podium/internal/api"
	"github.com/tracklab/podium/internal/database"
	"github.com/tracklab/podium/internal/entities"
	"github.com/tracklab/podium/internal/hosting"
	"github.com/tracklab/podium/internal/rooms"
	"github.com/tracklab/podium/internal/scheduler"
	"github.com/tracklab/podium/internal/tasks"
	"github.com/tracklab/podium/pkg/config"
	"github.com/tracklab/podium/pkg/crypto"
	"github.com/tracklab/podium/pkg/util"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting podiumd",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize encryptor for credential storage
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - credentials will be lost on restart")
	}

	// Hosting service client, shared by everything that talks to it
	credSource := hosting.NewCredentialSource(db, encryptor)
	hostingSvc := hosting.NewService(hosting.Config{
		BaseURL:        cfg.Hosting.BaseURL,
		WebsocketURL:   cfg.Hosting.WebsocketURL,
		TokenPath:      cfg.Hosting.TokenPath,
		RoomsPerMinute: cfg.Hosting.RoomsPerMinute,
	}, credSource, logger)

	// Room lifecycle plumbing
	store := entities.NewStore(db, logger)
	synchronizer := rooms.NewSynchronizer(db, store, logger)
	orchestrator := rooms.NewOrchestrator(db, hostingSvc, store, logger)
	binder := rooms.NewBinder(db, hostingSvc, synchronizer, logger)

	// Task handlers and the scheduler that dispatches them
	registry := tasks.NewRegistry()
	tasks.NewHandlers(db, orchestrator, binder, logger).RegisterAll(registry)

	sched := scheduler.New(db, registry, logger, scheduler.Options{
		PollInterval:     cfg.Scheduler.PollInterval(),
		StaleClaimWindow: cfg.Scheduler.StaleClaimWindow(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		binder.Run(ctx, cfg.Hosting.ReconcileInterval())
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// Read-only inspection API
	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Logger:         logger,
		APIToken:       cfg.Server.APIToken,
		AllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop taking HTTP requests first, then wind down the scheduler and
	// room sessions. Both wait for in-flight work before returning.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cancel()
	wg.Wait()

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("podiumd stopped")
}
