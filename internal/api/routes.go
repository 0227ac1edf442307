// Package api wires the engine's HTTP control and observability port.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/api/handlers"
	"github.com/irfndi/neuratrade-intraday/internal/database"
	"github.com/irfndi/neuratrade-intraday/internal/middleware"
	"go.uber.org/zap"
)

// RouteDeps collects what the routes need. Redis and Throttle are optional.
type RouteDeps struct {
	Engine   handlers.Engine
	Broker   handlers.BrokerChecker
	Redis    *database.RedisClient
	Throttle *middleware.Throttle
	Version  string
	Logger   *zap.Logger
}

// SetupRoutes registers health checks under / and the engine endpoints under
// /api/v1/engine. Mutating engine calls pass through the throttle.
//
// Parameters:
//
//	router: The Gin engine instance to register routes on.
//	deps: Route dependencies.
func SetupRoutes(router *gin.Engine, deps RouteDeps) {
	var redisChecker handlers.RedisHealthChecker
	if deps.Redis != nil {
		redisChecker = deps.Redis
	}
	var throttleStats handlers.ThrottleReporter
	if deps.Throttle != nil {
		throttleStats = deps.Throttle
	}

	healthHandler := handlers.NewHealthHandler(redisChecker, deps.Broker, deps.Engine, throttleStats, deps.Version)
	engineHandler := handlers.NewEngineHandler(deps.Engine, deps.Logger)

	healthGroup := router.Group("/")
	healthGroup.Use(middleware.TelemetryMiddleware(), middleware.RouteTag("health"))
	{
		healthGroup.GET("/health", healthHandler.HealthCheck)
		healthGroup.HEAD("/health", healthHandler.HealthCheck)
		healthGroup.GET("/live", healthHandler.LivenessCheck)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.TelemetryMiddleware())
	{
		eng := v1.Group("/engine")
		eng.GET("/status", engineHandler.GetStatus)
		eng.GET("/decisions", engineHandler.GetDecisions)
		eng.GET("/config", engineHandler.GetConfig)

		control := eng.Group("")
		control.Use(middleware.RouteTag("control"))
		if deps.Throttle != nil {
			control.Use(deps.Throttle.Middleware())
		}
		{
			control.PUT("/config", engineHandler.UpdateConfig)
			control.POST("/start", engineHandler.Start)
			control.POST("/stop", engineHandler.Stop)
		}
	}
}
