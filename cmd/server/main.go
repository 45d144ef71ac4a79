package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/the-vow/backend/api/handlers"
	"github.com/the-vow/backend/api/middleware"
	"github.com/the-vow/backend/internal/config"
	"github.com/the-vow/backend/internal/db"
	"github.com/the-vow/backend/internal/logger"
	"github.com/the-vow/backend/internal/repository"
	"github.com/the-vow/backend/internal/session"
	"github.com/the-vow/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logCloser, err := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: cfg.LogConsole,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to create database directory")
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.CloseDB()

	store := repository.NewStore(database)

	sessionManager := session.NewManager(store, session.Config{TTL: cfg.SessionTTL})
	sessionManager.StartSweeper(cfg.SweepInterval)
	defer sessionManager.Close()

	hubManager := ws.NewHubManager()

	realtime := ws.NewHandler(hubManager, store, ws.HandlerConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		StrokeInterval:    cfg.StrokeThrottle,
		StoreTimeout:      cfg.StoreTimeout,
		MaxWriteAttempts:  cfg.MaxWriteAttempts,
	})

	sessionHandler := handlers.NewSessionHandler(sessionManager)
	wsHandler := handlers.NewWebSocketHandler(realtime)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Metrics(), middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": hubManager.SessionCount(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown did not complete")
	}
	// Session writers must drain before the deferred CloseDB runs.
	if err := hubManager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Session writers did not drain")
	}
}
