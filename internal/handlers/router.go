package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/logger"
	"github.com/mediaforge/studio/internal/middleware"
	"github.com/mediaforge/studio/internal/services"
	"go.uber.org/zap"
)

// RouterDeps is everything the HTTP layer needs
type RouterDeps struct {
	Catalog   *catalog.Catalog
	Costs     *services.CostService
	Jobs      *services.JobManager
	History   *services.HistoryService
	Usage     *services.UsageService
	Auth      *services.AuthService
	JWT       middleware.JWTConfig
	OutputDir string
	// WebDir holds the dashboard; skipped when empty or missing
	WebDir         string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires every route of the studio API
func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(d.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = d.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if d.WebDir != "" {
		if _, err := os.Stat(filepath.Join(d.WebDir, "index.html")); err == nil {
			router.Static("/web", d.WebDir)
			router.StaticFile("/", filepath.Join(d.WebDir, "index.html"))
		} else {
			log.Warn("dashboard not found, serving API only", zap.String("web_dir", d.WebDir))
		}
	}

	authHandler := NewAuthHandler(d.Auth, d.JWT)
	catalogHandler := NewCatalogHandler(d.Catalog, d.Costs)
	jobHandler := NewJobHandler(d.Jobs)
	historyHandler := NewHistoryHandler(d.History, d.Usage)
	mediaHandler := NewMediaHandler(d.OutputDir)

	requireAuth := middleware.RequireAuth(d.Auth.Enabled(), d.JWT.Secret, d.Auth.CheckAPIKey)

	router.GET("/media/:name", requireAuth, mediaHandler.Serve)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.GET("/status", authHandler.Status)
		}

		protected := api.Group("")
		protected.Use(requireAuth)
		{
			protected.GET("/models", catalogHandler.ListModels)
			protected.GET("/models/:key", catalogHandler.GetModel)
			protected.GET("/templates", catalogHandler.Templates)
			protected.POST("/cost/estimate", catalogHandler.EstimateCost)

			protected.POST("/jobs", jobHandler.Create)
			protected.GET("/jobs", jobHandler.List)
			protected.GET("/jobs/:id", jobHandler.Get)
			protected.POST("/jobs/:id/cancel", jobHandler.Cancel)

			protected.GET("/history", historyHandler.List)
			protected.GET("/history/:id", historyHandler.Get)
			protected.POST("/history/migrate", historyHandler.Migrate)
			protected.GET("/gallery", historyHandler.Gallery)
			protected.GET("/stats", historyHandler.Stats)
		}
	}

	return router
}
