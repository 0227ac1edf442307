package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/config"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func known(names ...string) func(string) bool {
	return func(n string) bool {
		for _, k := range names {
			if k == n {
				return true
			}
		}
		return false
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" full_auto ")
	require.NoError(t, err)
	assert.Equal(t, ModeFullAuto, m)

	_, err = ParseMode("YOLO")
	assert.Error(t, err)

	assert.True(t, ModeFullAuto.AutoExecutes())
	assert.True(t, ModeGodMode.AutoExecutes())
	assert.False(t, ModeAssisted.AutoExecutes())
	assert.False(t, ModeSemiAuto.AutoExecutes())
}

func TestConfigApply(t *testing.T) {
	base := DefaultConfig()

	next, err := base.Apply(ConfigUpdate{
		Mode:                ptr("semi_auto"),
		RiskPosture:         ptr("aggressive"),
		ScanIntervalSeconds: ptr(5),
		MaxPositions:        ptr(50),
		EnabledStrategies:   ptr([]string{"rsi", "macd", "rsi"}),
	}, known("rsi", "macd"))
	require.NoError(t, err)

	assert.Equal(t, ModeSemiAuto, next.Mode)
	assert.Equal(t, position.PostureAggressive, next.RiskPosture)
	assert.Equal(t, 5*time.Second, next.ScanInterval)
	assert.Equal(t, 50, next.MaxPositions)
	assert.Equal(t, []string{"macd", "rsi"}, next.EnabledStrategies)
	assert.Equal(t, ModeAssisted, base.Mode, "receiver is not modified")
}

func TestConfigApply_CollectsEveryProblem(t *testing.T) {
	base := DefaultConfig()
	_, err := base.Apply(ConfigUpdate{
		Mode:                ptr("YOLO"),
		RiskPosture:         ptr("RECKLESS"),
		ScanIntervalSeconds: ptr(4),
		MaxPositions:        ptr(51),
		EnabledStrategies:   ptr([]string{"rsi", "astrology"}),
	}, known("rsi"))

	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Problems, 5)
	assert.Contains(t, err.Error(), "astrology")
}

func TestConfigApply_Bounds(t *testing.T) {
	base := DefaultConfig()
	for _, n := range []int{0, -1, 51} {
		_, err := base.Apply(ConfigUpdate{MaxPositions: ptr(n)}, nil)
		assert.Error(t, err, "max_positions=%d", n)
	}
	_, err := base.Apply(ConfigUpdate{MaxPositions: ptr(1)}, nil)
	assert.NoError(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(config.EngineConfig{
		Mode:                "GOD_MODE",
		RiskPosture:         "DEFENSIVE",
		ScanIntervalSeconds: 30,
		MaxPositions:        3,
		EnabledStrategies:   []string{"rsi"},
	})
	assert.Equal(t, ModeGodMode, cfg.Mode)
	assert.Equal(t, position.PostureDefensive, cfg.RiskPosture)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, 3, cfg.MaxPositions)
	assert.Equal(t, []string{"rsi"}, cfg.EnabledStrategies)
	assert.False(t, cfg.Enabled)
}
