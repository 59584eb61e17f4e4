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
	"github.com/mediaforge/studio/internal/app"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/handlers"
	"github.com/mediaforge/studio/internal/logger"
	"github.com/mediaforge/studio/internal/services"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.String("config", configPath), zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialise", zap.Error(err))
	}
	defer a.Close()

	jobs := services.NewJobManager(a.Generation, cfg.Generation.MaxConcurrent, cfg.Generation.JobRetention, log.Named("jobs"))

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterDeps{
		Catalog:        a.Catalog,
		Costs:          a.Costs,
		Jobs:           jobs,
		History:        a.History,
		Usage:          a.Usage,
		Auth:           a.Auth,
		JWT:            a.JWT,
		OutputDir:      cfg.Storage.OutputDir,
		WebDir:         cfg.Server.WebDir,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         log.Named("http"),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("server forced to shutdown", zap.Error(err))
		}
		if err := jobs.Shutdown(ctx); err != nil {
			log.Warn("jobs did not stop in time", zap.Error(err))
		}
	}()

	log.Info("studio listening",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("auth", a.Auth.Enabled()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("failed to start server", zap.Error(err))
	}

	<-stopped
	log.Info("server exited")
}
