// Package middleware provides HTTP middleware for the engine control port.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RateLimitHeader          = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"

	throttleKeyPrefix = "control:throttle:"
)

// Fixed window counter. Returns {allowed, remaining, ttl_seconds}.
var throttleScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, 0, redis.call("TTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return {1, limit - current, redis.call("TTL", KEYS[1])}
`)

// ThrottleConfig bounds how often a single client may call the mutating
// control endpoints (config updates, engine start/stop).
type ThrottleConfig struct {
	Requests int
	Window   time.Duration
	// KeyFunc identifies the client. Defaults to the client IP.
	KeyFunc func(*gin.Context) string
	// SkipFunc exempts requests, e.g. read-only methods.
	SkipFunc func(*gin.Context) bool
}

// DefaultThrottleConfig allows requestsPerMinute mutating calls per client
// IP and never throttles GET requests.
func DefaultThrottleConfig(requestsPerMinute int) ThrottleConfig {
	return ThrottleConfig{
		Requests: requestsPerMinute,
		Window:   time.Minute,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		SkipFunc: func(c *gin.Context) bool {
			return c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		},
	}
}

// ThrottleStats counts throttle outcomes since startup.
type ThrottleStats struct {
	Allowed        int64 `json:"allowed"`
	Rejected       int64 `json:"rejected"`
	RedisFallbacks int64 `json:"redis_fallbacks"`
	Distributed    bool  `json:"distributed"`
}

// Throttle limits control requests. Counters live in Redis when a client is
// given so several replicas share one budget; a Redis failure degrades to the
// in-process window instead of letting the request through unchecked.
type Throttle struct {
	config ThrottleConfig
	redis  *redis.Client
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*throttleWindow
	stats   ThrottleStats
}

type throttleWindow struct {
	count   int
	resetAt time.Time
}

type throttleResult struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// NewThrottle creates a throttle. redisClient and logger may be nil.
func NewThrottle(config ThrottleConfig, redisClient *redis.Client, logger *zap.Logger) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Requests < 1 {
		config.Requests = 1
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	return &Throttle{
		config:  config,
		redis:   redisClient,
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*throttleWindow),
		stats:   ThrottleStats{Distributed: redisClient != nil},
	}
}

// Middleware returns the gin handler.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.config.SkipFunc != nil && t.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := t.config.KeyFunc(c)
		res := t.take(c.Request.Context(), key)

		c.Header(RateLimitHeader, strconv.Itoa(t.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(res.remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(res.resetAt.Unix(), 10))

		if !res.allowed {
			retryAfter := int(res.resetAt.Sub(t.now()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			t.logger.Warn("Control request throttled",
				zap.String("client", key),
				zap.String("path", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "too many control requests",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// Stats returns a copy of the counters.
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Throttle) take(ctx context.Context, key string) throttleResult {
	if t.redis != nil {
		res, err := t.takeRedis(ctx, key)
		if err == nil {
			t.count(res.allowed, false)
			return res
		}
		t.logger.Warn("Throttle store unavailable, using local window",
			zap.String("client", key),
			zap.Error(err),
		)
		t.count(false, true)
	}
	res := t.takeLocal(key)
	t.count(res.allowed, false)
	return res
}

func (t *Throttle) count(allowed, fallback bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case fallback:
		t.stats.RedisFallbacks++
	case allowed:
		t.stats.Allowed++
	default:
		t.stats.Rejected++
	}
}

func (t *Throttle) takeRedis(ctx context.Context, key string) (throttleResult, error) {
	seconds := int(t.config.Window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	raw, err := throttleScript.Run(ctx, t.redis, []string{throttleKeyPrefix + key}, t.config.Requests, seconds).Int64Slice()
	if err != nil {
		return throttleResult{}, err
	}
	if len(raw) != 3 {
		return throttleResult{}, fmt.Errorf("unexpected throttle reply of %d values", len(raw))
	}
	ttl := raw[2]
	if ttl < 0 {
		ttl = int64(seconds)
	}
	return throttleResult{
		allowed:   raw[0] == 1,
		remaining: int(raw[1]),
		resetAt:   t.now().Add(time.Duration(ttl) * time.Second),
	}, nil
}

func (t *Throttle) takeLocal(key string) throttleResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, w := range t.windows {
		if !now.Before(w.resetAt) {
			delete(t.windows, k)
		}
	}

	w, ok := t.windows[key]
	if !ok {
		w = &throttleWindow{resetAt: now.Add(t.config.Window)}
		t.windows[key] = w
	}
	if w.count >= t.config.Requests {
		return throttleResult{allowed: false, remaining: 0, resetAt: w.resetAt}
	}
	w.count++
	return throttleResult{allowed: true, remaining: t.config.Requests - w.count, resetAt: w.resetAt}
}
