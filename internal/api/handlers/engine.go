package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/engine"
	"github.com/irfndi/neuratrade-intraday/internal/middleware"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"go.uber.org/zap"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 100
)

// Engine is the part of the scheduler the control port drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Status(ctx context.Context) engine.Status
	Decisions(limit int) []engine.Decision
	Config() engine.Config
	UpdateConfig(u engine.ConfigUpdate) (engine.Config, error)
}

// ConfigView is the wire form of engine.Config.
type ConfigView struct {
	Enabled             bool                 `json:"enabled"`
	Mode                engine.Mode          `json:"mode"`
	RiskPosture         position.RiskPosture `json:"risk_posture"`
	ScanIntervalSeconds int                  `json:"scan_interval_seconds"`
	MaxPositions        int                  `json:"max_positions"`
	EnabledStrategies   []string             `json:"enabled_strategies"`
}

func newConfigView(c engine.Config) ConfigView {
	strategies := c.EnabledStrategies
	if strategies == nil {
		strategies = []string{}
	}
	return ConfigView{
		Enabled:             c.Enabled,
		Mode:                c.Mode,
		RiskPosture:         c.RiskPosture,
		ScanIntervalSeconds: int(c.ScanInterval / time.Second),
		MaxPositions:        c.MaxPositions,
		EnabledStrategies:   strategies,
	}
}

// EngineHandler serves engine status and control endpoints.
type EngineHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewEngineHandler creates a handler. A nil logger discards output.
func NewEngineHandler(e Engine, logger *zap.Logger) *EngineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineHandler{engine: e, logger: logger}
}

// GetStatus returns the full engine snapshot.
func (h *EngineHandler) GetStatus(c *gin.Context) {
	respondOK(c, http.StatusOK, h.engine.Status(c.Request.Context()))
}

// GetDecisions returns the newest decisions, at most ?limit= entries.
func (h *EngineHandler) GetDecisions(c *gin.Context) {
	limit := defaultDecisionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	decisions := h.engine.Decisions(limit)
	if decisions == nil {
		decisions = []engine.Decision{}
	}
	respondOK(c, http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (h *EngineHandler) GetConfig(c *gin.Context) {
	respondOK(c, http.StatusOK, newConfigView(h.engine.Config()))
}

// UpdateConfig applies a partial update. Omitted fields keep their value.
func (h *EngineHandler) UpdateConfig(c *gin.Context) {
	var update engine.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	next, err := h.engine.UpdateConfig(update)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			respondError(c, http.StatusBadRequest, "invalid configuration", gin.H{"problems": cfgErr.Problems})
			return
		}
		h.logger.Error("Failed to update engine configuration", zap.Error(err))
		middleware.RecordError(c, err, "update_config")
		respondError(c, http.StatusInternalServerError, "failed to update configuration")
		return
	}

	middleware.AddBreadcrumb(c, "engine configuration updated", map[string]interface{}{
		"mode":         next.Mode,
		"risk_posture": next.RiskPosture,
	})
	respondOK(c, http.StatusOK, newConfigView(next))
}

// Start launches the engine loops. The loops outlive the request.
func (h *EngineHandler) Start(c *gin.Context) {
	err := h.engine.Start(c.Request.Context())
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "engine is already running")
		return
	case err != nil:
		h.logger.Error("Failed to start engine", zap.Error(err))
		middleware.RecordError(c, err, "engine_start")
		respondError(c, http.StatusInternalServerError, "failed to start engine")
		return
	}

	cfg := h.engine.Config()
	middleware.SetTag(c, "mode", cfg.Mode)
	middleware.AddBreadcrumb(c, "engine started", nil)
	respondOK(c, http.StatusOK, gin.H{
		"running": true,
		"config":  newConfigView(cfg),
	})
}

// Stop asks the loops to exit. Stopping an idle engine is not an error.
func (h *EngineHandler) Stop(c *gin.Context) {
	wasRunning := h.engine.Running()
	h.engine.Stop()
	if wasRunning {
		middleware.AddBreadcrumb(c, "engine stopped", nil)
	}
	respondOK(c, http.StatusOK, gin.H{
		"running":     h.engine.Running(),
		"was_running": wasRunning,
	})
}
