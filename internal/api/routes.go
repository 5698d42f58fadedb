package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/internal/queue"
	"beacon/pkg/health"
	"beacon/pkg/middleware"
	"beacon/pkg/ratelimit"
)

// SetupRouter wires all HTTP endpoints. The engine's own admission rate
// limiting is independent of the per-client middleware limiter here, which
// only protects the HTTP surface itself.
func SetupRouter(
	notifications *NotificationHandler,
	routingHandler *RoutingHandler,
	manager *queue.Manager,
	checkers *health.CheckerRegistry,
	httpLimitCfg config.HTTPRateLimitConfig,
	log logger.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))

	if httpLimitCfg.Enabled {
		limitCfg := ratelimit.DefaultConfig()
		if httpLimitCfg.RPS > 0 {
			limitCfg.RPS = httpLimitCfg.RPS
		}
		if httpLimitCfg.Burst > 0 {
			limitCfg.Burst = httpLimitCfg.Burst
		}
		router.Use(ratelimit.RateLimitMiddleware(limitCfg))
	}

	router.GET("/health", func(c *gin.Context) {
		result := checkers.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/queues", func(c *gin.Context) {
		immediate, batch, retryDepth := manager.Depths()
		c.JSON(http.StatusOK, gin.H{
			"immediate": immediate,
			"batch":     batch,
			"retry":     retryDepth,
		})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/notifications", notifications.Submit)
		v1.GET("/notifications/:id", notifications.Get)
		v1.GET("/dead-letters", notifications.ListDeadLetters)

		rules := v1.Group("/routing-rules")
		{
			rules.POST("", routingHandler.CreateRule)
			rules.GET("", routingHandler.ListRules)
			rules.POST("/validate", routingHandler.ValidateRule)
			rules.GET("/:id", routingHandler.GetRule)
			rules.PUT("/:id", routingHandler.UpdateRule)
			rules.DELETE("/:id", routingHandler.DeleteRule)
		}

		prefs := v1.Group("/recipients/:recipient_id/preferences")
		{
			prefs.GET("", routingHandler.ListPreferences)
			prefs.PUT("", routingHandler.UpsertPreference)
			prefs.DELETE("/:channel", routingHandler.DeletePreference)
		}
	}

	return router
}
