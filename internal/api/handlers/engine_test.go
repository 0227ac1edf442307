package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/engine"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	running    bool
	startErr   error
	updateErr  error
	cfg        engine.Config
	decisions  []engine.Decision
	lastLimit  int
	lastUpdate engine.ConfigUpdate
	startCtx   context.Context
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{cfg: engine.DefaultConfig()}
}

func (f *fakeEngine) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCtx = ctx
	if f.startErr != nil {
		return f.startErr
	}
	if f.running {
		return engine.ErrAlreadyRunning
	}
	f.running = true
	f.cfg.Enabled = true
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.cfg.Enabled = false
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) Status(context.Context) engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Status{Running: f.running, Mode: f.cfg.Mode, Phase: engine.PhaseIdle}
}

func (f *fakeEngine) Decisions(limit int) []engine.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if limit < len(f.decisions) {
		return f.decisions[:limit]
	}
	return f.decisions
}

func (f *fakeEngine) Config() engine.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeEngine) UpdateConfig(u engine.ConfigUpdate) (engine.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = u
	if f.updateErr != nil {
		return engine.Config{}, f.updateErr
	}
	if u.Mode != nil {
		f.cfg.Mode = engine.Mode(*u.Mode)
	}
	if u.ScanIntervalSeconds != nil {
		f.cfg.ScanInterval = time.Duration(*u.ScanIntervalSeconds) * time.Second
	}
	return f.cfg, nil
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Problems []string        `json:"problems"`
}

func newEngineRouter(e Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewEngineHandler(e, nil)
	r := gin.New()
	r.GET("/status", h.GetStatus)
	r.GET("/decisions", h.GetDecisions)
	r.GET("/config", h.GetConfig)
	r.PUT("/config", h.UpdateConfig)
	r.POST("/start", h.Start)
	r.POST("/stop", h.Stop)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestEngineHandler_GetStatus(t *testing.T) {
	fe := newFakeEngine()
	fe.running = true
	r := newEngineRouter(fe)

	code, env := do(t, r, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)

	var st engine.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Running)
	assert.Equal(t, engine.ModeAssisted, st.Mode)
}

func TestEngineHandler_GetDecisions(t *testing.T) {
	fe := newFakeEngine()
	for i := 0; i < 3; i++ {
		fe.decisions = append(fe.decisions, engine.Decision{Type: engine.DecisionScan, Message: "scan"})
	}
	r := newEngineRouter(fe)

	t.Run("default limit", func(t *testing.T) {
		code, env := do(t, r, http.MethodGet, "/decisions", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, defaultDecisionLimit, fe.lastLimit)

		var data struct {
			Decisions []engine.Decision `json:"decisions"`
			Count     int               `json:"count"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, 3, data.Count)
		assert.Len(t, data.Decisions, 3)
	})

	t.Run("limit is capped", func(t *testing.T) {
		code, _ := do(t, r, http.MethodGet, "/decisions?limit=500", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, maxDecisionLimit, fe.lastLimit)
	})

	t.Run("explicit limit", func(t *testing.T) {
		_, env := do(t, r, http.MethodGet, "/decisions?limit=2", "")
		assert.Contains(t, string(env.Data), `"count":2`)
	})

	for _, bad := range []string{"0", "-3", "ten"} {
		t.Run("rejects limit "+bad, func(t *testing.T) {
			code, env := do(t, r, http.MethodGet, "/decisions?limit="+bad, "")
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", env.Status)
		})
	}

	t.Run("empty log is an empty list", func(t *testing.T) {
		_, env := do(t, newEngineRouter(newFakeEngine()), http.MethodGet, "/decisions", "")
		assert.Contains(t, string(env.Data), `"decisions":[]`)
	})
}

func TestEngineHandler_GetConfig(t *testing.T) {
	r := newEngineRouter(newFakeEngine())

	code, env := do(t, r, http.MethodGet, "/config", "")
	assert.Equal(t, http.StatusOK, code)

	var view ConfigView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, ConfigView{
		Mode:                engine.ModeAssisted,
		RiskPosture:         position.PostureBalanced,
		ScanIntervalSeconds: 60,
		MaxPositions:        5,
		EnabledStrategies:   []string{},
	}, view)
}

func TestEngineHandler_UpdateConfig(t *testing.T) {
	t.Run("applies partial update", func(t *testing.T) {
		fe := newFakeEngine()
		r := newEngineRouter(fe)

		code, env := do(t, r, http.MethodPut, "/config", `{"mode":"FULL_AUTO","scan_interval_seconds":30}`)
		assert.Equal(t, http.StatusOK, code)

		var view ConfigView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, engine.ModeFullAuto, view.Mode)
		assert.Equal(t, 30, view.ScanIntervalSeconds)

		require.NotNil(t, fe.lastUpdate.Mode)
		assert.Nil(t, fe.lastUpdate.RiskPosture)
		assert.Nil(t, fe.lastUpdate.EnabledStrategies)
	})

	t.Run("validation problems are a bad request", func(t *testing.T) {
		fe := newFakeEngine()
		fe.updateErr = &config.ConfigurationError{Problems: []string{"unknown mode \"YOLO\"", "max_positions must be between 1 and 50"}}
		r := newEngineRouter(fe)

		code, env := do(t, r, http.MethodPut, "/config", `{"mode":"YOLO","max_positions":99}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid configuration", env.Error)
		assert.Len(t, env.Problems, 2)
	})

	t.Run("malformed body", func(t *testing.T) {
		code, env := do(t, newEngineRouter(newFakeEngine()), http.MethodPut, "/config", `{"mode":`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, env.Error, "invalid request body")
	})

	t.Run("unexpected failure", func(t *testing.T) {
		fe := newFakeEngine()
		fe.updateErr = errors.New("disk full")
		code, env := do(t, newEngineRouter(fe), http.MethodPut, "/config", `{"mode":"ASSISTED"}`)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.NotContains(t, env.Error, "disk full")
	})
}

func TestEngineHandler_StartStop(t *testing.T) {
	fe := newFakeEngine()
	r := newEngineRouter(fe)

	code, env := do(t, r, http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"running":true`)
	assert.True(t, fe.Running())
	assert.NotNil(t, fe.startCtx)

	code, env = do(t, r, http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "engine is already running", env.Error)

	code, env = do(t, r, http.MethodPost, "/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"was_running":true`)
	assert.False(t, fe.Running())

	code, env = do(t, r, http.MethodPost, "/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"was_running":false`)
}

func TestEngineHandler_StartFailure(t *testing.T) {
	fe := newFakeEngine()
	fe.startErr = errors.New("state dir not writable")

	code, env := do(t, newEngineRouter(fe), http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to start engine", env.Error)
}
