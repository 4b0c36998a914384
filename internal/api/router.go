package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clipfeed/ranker/internal/cache"
	"github.com/clipfeed/ranker/pkg/config"
	"github.com/clipfeed/ranker/pkg/logging"
)

// HealthChecker reports backing-store health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	feed   *FeedHandler
	db     HealthChecker
	cache  *cache.Cache
	logger *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(ranker PageProvider, database HealthChecker, redisCache *cache.Cache, cfg config.RankerConfig) *Router {
	logger := logging.GetLogger()
	return &Router{
		feed:   NewFeedHandler(ranker, cfg, logger),
		db:     database,
		cache:  redisCache,
		logger: logger.With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// Feed endpoint
	engine.POST("/v1/feed", r.feed.GetFeed)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	status := "OK"
	code := 200

	if r.db != nil {
		if err := r.db.Health(c.Request.Context()); err != nil {
			r.logger.Error("database health check failed", zap.Error(err))
			status = "DEGRADED"
			code = 503
		}
	}

	cacheStatus := "disabled"
	if r.cache != nil {
		cacheStatus = "OK"
		if err := r.cache.Health(c.Request.Context()); err != nil && err != cache.ErrCacheDisabled {
			r.logger.Warn("cache health check failed", zap.Error(err))
			cacheStatus = "DEGRADED"
		}
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "clipfeed-ranker",
		"cache":   cacheStatus,
	})
}
