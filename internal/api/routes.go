package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/alerts"
	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/internal/scanner"
)

// Pinger reports reachability of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP layer serves. Orchestrator is required.
type Deps struct {
	Orchestrator   *engine.Orchestrator
	Alerts         *alerts.Manager
	Hub            *Hub
	Watcher        *scanner.Watcher
	RateLimiter    *RateLimiter
	MetricsHandler http.Handler
	Database       Pinger
	AllowedOrigins []string
	Logger         *zap.Logger
}

type APIHandler struct {
	orch    *engine.Orchestrator
	alerts  *alerts.Manager
	hub     *Hub
	watcher *scanner.Watcher
	db      Pinger
	started time.Time
	logger  *zap.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	logger := d.Logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), corsMiddleware(d.AllowedOrigins))

	h := &APIHandler{
		orch:    d.Orchestrator,
		alerts:  d.Alerts,
		hub:     d.Hub,
		watcher: d.Watcher,
		db:      d.Database,
		started: time.Now(),
		logger:  logger,
	}

	limited := func(c *gin.Context) { c.Next() }
	if d.RateLimiter != nil {
		limited = d.RateLimiter.Middleware()
	}

	api := r.Group("/api/v1")
	{
		api.POST("/analyze", limited, h.handleAnalyze)
		api.POST("/analyze/batch", limited, h.handleBatch)

		api.GET("/patterns", h.handleListPatterns)
		api.GET("/patterns/statistics", h.handlePatternStatistics)
		api.GET("/patterns/:id", h.handleGetPattern)
		api.POST("/patterns/:id/enable", h.handleSetEnabled(true))
		api.POST("/patterns/:id/disable", h.handleSetEnabled(false))

		api.GET("/metrics", h.handleMetrics)
		api.DELETE("/cache", h.handleClearCache)
		api.GET("/alerts", h.handleAlerts)
		api.GET("/health", h.handleHealth)
		if d.Hub != nil {
			api.GET("/stream", d.Hub.Subscribe)
		}

		// Address watch list
		api.GET("/watch", h.handleWatchList)
		api.POST("/watch", h.handleWatchAdd)
		api.DELETE("/watch/:address", h.handleWatchRemove)
		api.POST("/watch/scan", limited, h.handleWatchScan)
	}

	if d.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}
	return r
}

// corsMiddleware allows the configured origins, or every origin when none are
// configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	cfg.ExposeHeaders = []string{"Retry-After", "X-RateLimit-Limit"}
	return cors.New(cfg)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
