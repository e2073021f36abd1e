package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/glimpse/api/handler"
	"github.com/use-agent/glimpse/api/middleware"
	"github.com/use-agent/glimpse/config"
)

// Pipeline is the URL pipeline behind the API routes.
type Pipeline interface {
	handler.Processor
	handler.GroundingProcessor
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work. Background
// sweepers stop when ctx is done.
func NewRouter(ctx context.Context, proc Pipeline, sp handler.StatsProvider, batches *handler.Batches, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(sp, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/process", handler.Process(proc))
	protected.POST("/ground", handler.Ground(proc))

	protected.POST("/batch", batches.Post())
	protected.GET("/batch/:id", batches.Get())
	go batches.Sweep(ctx, 5*time.Minute)

	return r
}
