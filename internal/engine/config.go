package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/position"
)

// Mode controls whether ranked candidates are executed automatically.
type Mode string

const (
	ModeAssisted Mode = "ASSISTED"
	ModeSemiAuto Mode = "SEMI_AUTO"
	ModeFullAuto Mode = "FULL_AUTO"
	ModeGodMode  Mode = "GOD_MODE"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeAssisted, ModeSemiAuto, ModeFullAuto, ModeGodMode:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// AutoExecutes reports whether the scan loop may place orders on its own.
func (m Mode) AutoExecutes() bool {
	return m == ModeFullAuto || m == ModeGodMode
}

const (
	MinScanInterval = 5 * time.Second
	MaxPositions    = 50
)

// Config is the runtime engine configuration. It is owned by the scheduler
// and changed only through UpdateConfig.
type Config struct {
	Enabled           bool                 `json:"enabled"`
	Mode              Mode                 `json:"mode"`
	RiskPosture       position.RiskPosture `json:"risk_posture"`
	ScanInterval      time.Duration        `json:"-"`
	MaxPositions      int                  `json:"max_positions"`
	EnabledStrategies []string             `json:"enabled_strategies"`
}

func DefaultConfig() Config {
	return Config{
		Mode:         ModeAssisted,
		RiskPosture:  position.PostureBalanced,
		ScanInterval: 60 * time.Second,
		MaxPositions: 5,
	}
}

// ConfigFromSettings builds the initial runtime config from loaded settings.
// Settings were validated at load time; unparseable values fall back to defaults.
func ConfigFromSettings(s config.EngineConfig) Config {
	cfg := DefaultConfig()
	if m, err := ParseMode(s.Mode); err == nil {
		cfg.Mode = m
	}
	if p, err := position.ParsePosture(s.RiskPosture); err == nil {
		cfg.RiskPosture = p
	}
	if s.ScanIntervalSeconds > 0 {
		cfg.ScanInterval = config.Seconds(s.ScanIntervalSeconds)
	}
	if s.MaxPositions > 0 {
		cfg.MaxPositions = s.MaxPositions
	}
	cfg.EnabledStrategies = append([]string(nil), s.EnabledStrategies...)
	return cfg
}

func (c Config) clone() Config {
	c.EnabledStrategies = slices.Clone(c.EnabledStrategies)
	return c
}

// ConfigUpdate is a partial update; nil fields are left unchanged.
type ConfigUpdate struct {
	Mode                *string   `json:"mode,omitempty"`
	RiskPosture         *string   `json:"risk_posture,omitempty"`
	ScanIntervalSeconds *int      `json:"scan_interval_seconds,omitempty"`
	MaxPositions        *int      `json:"max_positions,omitempty"`
	EnabledStrategies   *[]string `json:"enabled_strategies,omitempty"`
}

// Apply validates u against c and returns the merged config. Every invalid
// field is reported in a single *config.ConfigurationError.
func (c Config) Apply(u ConfigUpdate, knownStrategy func(string) bool) (Config, error) {
	next := c.clone()
	var problems []string

	if u.Mode != nil {
		m, err := ParseMode(*u.Mode)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			next.Mode = m
		}
	}
	if u.RiskPosture != nil {
		p, err := position.ParsePosture(*u.RiskPosture)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			next.RiskPosture = p
		}
	}
	if u.ScanIntervalSeconds != nil {
		d := config.Seconds(*u.ScanIntervalSeconds)
		if d < MinScanInterval {
			problems = append(problems, fmt.Sprintf("scan_interval_seconds must be at least %d", int(MinScanInterval.Seconds())))
		} else {
			next.ScanInterval = d
		}
	}
	if u.MaxPositions != nil {
		if *u.MaxPositions < 1 || *u.MaxPositions > MaxPositions {
			problems = append(problems, fmt.Sprintf("max_positions must be between 1 and %d", MaxPositions))
		} else {
			next.MaxPositions = *u.MaxPositions
		}
	}
	if u.EnabledStrategies != nil {
		var unknown []string
		seen := make(map[string]bool)
		var names []string
		for _, name := range *u.EnabledStrategies {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if knownStrategy != nil && !knownStrategy(name) {
				unknown = append(unknown, name)
				continue
			}
			names = append(names, name)
		}
		if len(unknown) > 0 {
			problems = append(problems, "unknown strategies: "+strings.Join(unknown, ", "))
		} else {
			slices.Sort(names)
			next.EnabledStrategies = names
		}
	}

	if len(problems) > 0 {
		return c, &config.ConfigurationError{Problems: problems}
	}
	return next, nil
}
