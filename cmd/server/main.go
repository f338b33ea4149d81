package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lireddit/lireddit/internal/api"
	"github.com/lireddit/lireddit/internal/cache"
	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/mail"
	"github.com/lireddit/lireddit/internal/posts"
	"github.com/lireddit/lireddit/internal/session"
	"github.com/lireddit/lireddit/internal/users"
	"github.com/lireddit/lireddit/internal/voting"
	"github.com/lireddit/lireddit/pkg/config"
	"github.com/lireddit/lireddit/pkg/logging"
	"github.com/lireddit/lireddit/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting lireddit API server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	store, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to cache", zap.Error(err))
	}
	defer store.Close()

	repo := db.NewRepository(database.DB)
	sessions := session.NewManager(store, &cfg.Session)

	services := api.Services{
		DB:       database,
		Cache:    store,
		Sessions: sessions,
		Posts:    posts.NewService(repo, logging.WithComponent("posts")),
		Voting:   voting.NewService(database.DB, cfg.Voting.MaxRetries, logging.WithComponent("voting")),
		Users: users.NewService(repo, store, sessions, mail.New(&cfg.Mail), &cfg.Auth,
			logging.WithComponent("users")),
	}

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewRouter(services, &cfg.Server).SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
