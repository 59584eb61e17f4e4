// Package app assembles the studio services from a loaded configuration.
// Both the HTTP server and the command-line tool start from here.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/config"
	"github.com/mediaforge/studio/internal/media"
	"github.com/mediaforge/studio/internal/middleware"
	"github.com/mediaforge/studio/internal/replicate"
	"github.com/mediaforge/studio/internal/services"
	"github.com/mediaforge/studio/internal/storage"
	"go.uber.org/zap"
)

// App holds the wired services
type App struct {
	Config     *config.Config
	Log        *zap.Logger
	Catalog    *catalog.Catalog
	Costs      *services.CostService
	Store      storage.HistoryStore
	UsageStore *storage.UsageStore
	Generation *services.GenerationService
	History    *services.HistoryService
	Usage      *services.UsageService
	Auth       *services.AuthService
	JWT        middleware.JWTConfig
}

// New opens storage and builds every service. Close releases the store.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s history: %w", cfg.Storage.Backend, err)
	}

	cat := catalog.Default()
	costs := services.NewCostService(cat, nil, cfg.Pricing.USDToEUR)
	usage := storage.NewUsageStore(cfg.Storage.UsageFile)

	client := replicate.NewClient(replicate.Options{
		BaseURL:        cfg.Replicate.BaseURL,
		Token:          cfg.Replicate.APIToken,
		PollInterval:   cfg.Replicate.PollIntervalDuration(),
		RequestTimeout: time.Duration(cfg.Replicate.RequestTimeout) * time.Second,
		Logger:         log.Named("replicate"),
	})

	generation := services.NewGenerationService(services.GenerationDeps{
		Catalog:    cat,
		Costs:      costs,
		Predictor:  client,
		Downloader: media.NewDownloader(nil, log.Named("download")),
		History:    store,
		Usage:      usage,
		OutputDir:  cfg.Storage.OutputDir,
		Logger:     log.Named("generation"),
	})

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		// tokens then only survive until the next restart
		secret, err = randomSecret()
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	return &App{
		Config:     cfg,
		Log:        log,
		Catalog:    cat,
		Costs:      costs,
		Store:      store,
		UsageStore: usage,
		Generation: generation,
		History:    services.NewHistoryService(store, cat, cfg.Storage.OutputDir, cfg.Storage.HistoryLimit, log.Named("history")),
		Usage:      services.NewUsageService(usage, cat, costs),
		Auth:       services.NewAuthService(cfg.Auth),
		JWT:        middleware.JWTConfig{Secret: secret, Expiration: cfg.Auth.TokenTTLDuration()},
	}, nil
}

// Close releases the history store
func (a *App) Close() error {
	return a.Store.Close()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
