package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/middleware"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

var startTime = time.Now()

// RedisHealthChecker interface for redis health checks.
type RedisHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerChecker reports the broker session state.
type BrokerChecker interface {
	IsConnected(ctx context.Context) bool
}

// ThrottleReporter exposes control port throttle counters.
type ThrottleReporter interface {
	Stats() middleware.ThrottleStats
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	redis    RedisHealthChecker
	broker   BrokerChecker
	engine   Engine
	throttle ThrottleReporter
	version  string
	timeout  time.Duration
}

// HealthResponse represents the health status response.
type HealthResponse struct {
	// Status is "healthy", "degraded" or "unhealthy".
	Status        string                    `json:"status"`
	Timestamp     time.Time                 `json:"timestamp"`
	Services      map[string]string         `json:"services"`
	EngineRunning bool                      `json:"engine_running"`
	Version       string                    `json:"version"`
	Uptime        string                    `json:"uptime"`
	Throttle      *middleware.ThrottleStats `json:"throttle,omitempty"`
}

// NewHealthHandler creates a new instance of HealthHandler.
//
// Parameters:
//
//	redis: Redis checker, nil when running on in-memory stores.
//	broker: Broker session checker.
//	eng: Engine, used for the running flag.
//	throttle: Control throttle, may be nil.
//	version: Application version reported to callers.
//
// Returns:
//
//	*HealthHandler: Initialized handler.
func NewHealthHandler(redis RedisHealthChecker, broker BrokerChecker, eng Engine, throttle ThrottleReporter, version string) *HealthHandler {
	return &HealthHandler{
		redis:    redis,
		broker:   broker,
		engine:   eng,
		throttle: throttle,
		version:  version,
		timeout:  5 * time.Second,
	}
}

// HealthCheck reports dependency status. A configured Redis that fails its
// ping makes the service unhealthy (503) because engine state writes would be
// lost; a disconnected broker only degrades it since the keepalive loop
// reconnects on its own.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	span := sentry.StartSpan(ctx, "health_check")
	defer span.Finish()
	ctx = span.Context()

	services := make(map[string]string)
	status := statusHealthy

	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			services["redis"] = statusUnhealthy + ": " + err.Error()
			span.SetTag("redis.status", statusUnhealthy)
			status = statusUnhealthy
			middleware.RecordError(c, err, "health_redis")
		} else {
			services["redis"] = statusHealthy
			span.SetTag("redis.status", statusHealthy)
		}
	} else {
		services["redis"] = "not configured"
		span.SetTag("redis.status", "not_configured")
	}

	if h.broker != nil {
		if h.broker.IsConnected(ctx) {
			services["broker"] = statusHealthy
		} else {
			services["broker"] = "disconnected"
			if status == statusHealthy {
				status = statusDegraded
			}
		}
		span.SetTag("broker.status", services["broker"])
	}
	span.SetTag("overall.status", status)

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
	if h.engine != nil {
		resp.EngineRunning = h.engine.Running()
	}
	if h.throttle != nil {
		stats := h.throttle.Stats()
		resp.Throttle = &stats
	}

	code := http.StatusOK
	span.Status = sentry.SpanStatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
		span.Status = sentry.SpanStatusUnavailable
	}
	if c.Request.Method == http.MethodHead {
		c.Status(code)
		return
	}
	c.JSON(code, resp)
}

// LivenessCheck answers as long as the process serves HTTP.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
