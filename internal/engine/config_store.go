package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/position"
	"go.uber.org/zap"
)

// persistedConfig is the on-disk layout of the engine state file.
type persistedConfig struct {
	Enabled             bool                     `json:"enabled"`
	Mode                Mode                     `json:"mode"`
	RiskPosture         position.RiskPosture     `json:"risk_posture"`
	ScanIntervalSeconds int                      `json:"scan_interval_seconds"`
	MaxPositions        int                      `json:"max_positions"`
	EnabledStrategies   []string                 `json:"enabled_strategies"`
	StrategyPerformance map[string]StrategyStats `json:"strategy_performance"`
	LastUpdated         time.Time                `json:"last_updated"`
}

// Snapshot is what ConfigStore saves and loads.
type Snapshot struct {
	Config      Config
	Performance map[string]StrategyStats
	LastUpdated time.Time
}

// ConfigStore persists the runtime config and strategy counters to a JSON
// file. Writes go to a temp file that is synced and renamed over the target,
// so a crash never leaves a half-written file behind.
type ConfigStore struct {
	mu       sync.Mutex
	path     string
	defaults Config
	logger   *zap.Logger
}

func NewConfigStore(path string, defaults Config, logger *zap.Logger) *ConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigStore{path: path, defaults: defaults.clone(), logger: logger}
}

func (s *ConfigStore) Path() string { return s.path }

// Load reads the state file. A missing file yields the defaults and no error.
// An unreadable or invalid file yields the defaults and ErrStateCorruption.
func (s *ConfigStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := Snapshot{Config: s.defaults.clone(), Performance: map[string]StrategyStats{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("No engine state file, using defaults", zap.String("path", s.path))
		return fresh, nil
	}
	if err != nil {
		s.logger.Warn("Failed to read engine state file, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return fresh, fmt.Errorf("%w: %v", ErrStateCorruption, err)
	}

	var p persistedConfig
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("Engine state file is corrupt, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return fresh, fmt.Errorf("%w: %v", ErrStateCorruption, err)
	}

	cfg, err := s.fromPersisted(p)
	if err != nil {
		s.logger.Warn("Engine state file holds invalid values, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return fresh, fmt.Errorf("%w: %v", ErrStateCorruption, err)
	}

	perf := p.StrategyPerformance
	if perf == nil {
		perf = map[string]StrategyStats{}
	}
	return Snapshot{Config: cfg, Performance: perf, LastUpdated: p.LastUpdated}, nil
}

// fromPersisted overlays the fields present in the file on the defaults and
// validates only those. Zero or missing fields keep their default.
func (s *ConfigStore) fromPersisted(p persistedConfig) (Config, error) {
	cfg := s.defaults.clone()
	cfg.Enabled = p.Enabled

	var u ConfigUpdate
	if p.ScanIntervalSeconds != 0 {
		u.ScanIntervalSeconds = &p.ScanIntervalSeconds
	}
	if p.MaxPositions != 0 {
		u.MaxPositions = &p.MaxPositions
	}
	if p.Mode != "" {
		mode := string(p.Mode)
		u.Mode = &mode
	}
	if p.RiskPosture != "" {
		posture := string(p.RiskPosture)
		u.RiskPosture = &posture
	}
	next, err := cfg.Apply(u, nil)
	if err != nil {
		return cfg, err
	}
	if p.EnabledStrategies != nil {
		next.EnabledStrategies = append([]string(nil), p.EnabledStrategies...)
	}
	return next, nil
}

// Save atomically replaces the state file.
func (s *ConfigStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}
	p := persistedConfig{
		Enabled:             snap.Config.Enabled,
		Mode:                snap.Config.Mode,
		RiskPosture:         snap.Config.RiskPosture,
		ScanIntervalSeconds: int(snap.Config.ScanInterval / time.Second),
		MaxPositions:        snap.Config.MaxPositions,
		EnabledStrategies:   snap.Config.EnabledStrategies,
		StrategyPerformance: snap.Performance,
		LastUpdated:         snap.LastUpdated,
	}
	if p.EnabledStrategies == nil {
		p.EnabledStrategies = []string{}
	}
	if p.StrategyPerformance == nil {
		p.StrategyPerformance = map[string]StrategyStats{}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal engine state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
