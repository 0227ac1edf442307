package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRedis struct{ err error }

func (m mockRedis) HealthCheck(context.Context) error { return m.err }

type mockBroker struct{ connected bool }

func (m mockBroker) IsConnected(context.Context) bool { return m.connected }

type mockThrottle struct{}

func (mockThrottle) Stats() middleware.ThrottleStats {
	return middleware.ThrottleStats{Allowed: 4, Rejected: 1, Distributed: true}
}

func healthRequest(t *testing.T, h *HealthHandler, method string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.HealthCheck)
	r.HEAD("/health", h.HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, "/health", nil))

	var resp HealthResponse
	if method == http.MethodGet {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		redis      RedisHealthChecker
		broker     BrokerChecker
		wantCode   int
		wantStatus string
		wantRedis  string
		wantBroker string
	}{
		{
			name:       "all healthy",
			redis:      mockRedis{},
			broker:     mockBroker{connected: true},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantRedis:  "healthy",
			wantBroker: "healthy",
		},
		{
			name:       "broker down degrades",
			redis:      mockRedis{},
			broker:     mockBroker{},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantRedis:  "healthy",
			wantBroker: "disconnected",
		},
		{
			name:       "redis down is unhealthy",
			redis:      mockRedis{err: errors.New("connection refused")},
			broker:     mockBroker{connected: true},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantRedis:  "unhealthy: connection refused",
			wantBroker: "healthy",
		},
		{
			name:       "memory stores",
			broker:     mockBroker{connected: true},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantRedis:  "not configured",
			wantBroker: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.redis, tt.broker, nil, nil, "test")
			w, resp := healthRequest(t, h, http.MethodGet)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantRedis, resp.Services["redis"])
			assert.Equal(t, tt.wantBroker, resp.Services["broker"])
			assert.Equal(t, "test", resp.Version)
			assert.Nil(t, resp.Throttle)
		})
	}
}

func TestHealthCheck_EngineAndThrottle(t *testing.T) {
	fe := newFakeEngine()
	fe.running = true
	h := NewHealthHandler(nil, mockBroker{connected: true}, fe, mockThrottle{}, "v1")

	_, resp := healthRequest(t, h, http.MethodGet)
	assert.True(t, resp.EngineRunning)
	require.NotNil(t, resp.Throttle)
	assert.Equal(t, int64(1), resp.Throttle.Rejected)
}

func TestHealthCheck_Head(t *testing.T) {
	h := NewHealthHandler(mockRedis{err: errors.New("down")}, nil, nil, nil, "")
	w, _ := healthRequest(t, h, http.MethodHead)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestLivenessCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/live", NewHealthHandler(nil, nil, nil, nil, "").LivenessCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}
