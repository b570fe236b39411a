package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/app"
	"github.com/raqeeb-app/raqeeb/internal/handlers"
	"github.com/raqeeb-app/raqeeb/internal/middleware"
	"github.com/raqeeb-app/raqeeb/internal/pipeline"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, p *pipeline.Pipeline, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	cronHandler, err := handlers.NewCronHandler(p)
	if err != nil {
		return nil, err
	}
	announcementHandler, err := handlers.NewAnnouncementHandler(db)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")

	// Pipeline triggers, guarded by the shared secret
	cronGroup := api.Group("/cron")
	cronGroup.Use(middleware.TriggerAuth(cfg.Pipeline.TriggerSecret))
	{
		cronGroup.POST("/ingest", cronHandler.Ingest)
		cronGroup.POST("/create-matches", cronHandler.CreateMatches)
		cronGroup.POST("/process-digests", cronHandler.ProcessDigests)
	}

	// Read-only listings
	api.GET("/announcements", announcementHandler.List)
	api.GET("/matches", announcementHandler.ListMatches)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
