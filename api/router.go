package api

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/resolveguard/api/handler"
	"github.com/use-agent/resolveguard/api/middleware"
	"github.com/use-agent/resolveguard/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, d *handler.Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(d))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Selectors (component M registry CRUD + stats)
	protected.POST("/selectors", handler.RegisterSelector(d))
	protected.GET("/selectors", handler.ListSelectors(d))
	protected.GET("/selectors/:name", handler.GetSelector(d))
	protected.PUT("/selectors/:name", handler.UpdateSelector(d))
	protected.DELETE("/selectors/:name", handler.UnregisterSelector(d))
	protected.GET("/selectors/:name/stats", handler.SelectorStats(d))

	// Resolve (component N resolver, synchronous/batch/streaming)
	protected.POST("/resolve", handler.Resolve(d))
	protected.POST("/resolve/batch", handler.ResolveBatch(d))
	protected.GET("/resolve/stream", handler.ResolveStream(d))

	// Snapshots (component O)
	protected.GET("/snapshots/:id", handler.GetSnapshot(d))

	// Jobs (components T/U progress + abort)
	protected.GET("/jobs/:id/progress", handler.JobProgress(d))
	protected.POST("/jobs/:id/abort", handler.JobAbort(d))

	return r
}
