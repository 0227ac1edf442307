package position

import (
	"fmt"
	"strings"
)

// RiskPosture scales stop and target distances.
type RiskPosture string

const (
	PostureDefensive  RiskPosture = "DEFENSIVE"
	PostureBalanced   RiskPosture = "BALANCED"
	PostureAggressive RiskPosture = "AGGRESSIVE"
)

func ParsePosture(s string) (RiskPosture, error) {
	switch p := RiskPosture(strings.ToUpper(strings.TrimSpace(s))); p {
	case PostureDefensive, PostureBalanced, PostureAggressive:
		return p, nil
	}
	return "", fmt.Errorf("unknown risk posture %q", s)
}

// Factors returns the stop and target multipliers for the posture.
// Unknown postures behave as BALANCED.
func (p RiskPosture) Factors() (stop, target float64) {
	switch p {
	case PostureDefensive:
		return 0.75, 0.8
	case PostureAggressive:
		return 1.25, 1.5
	default:
		return 1, 1
	}
}

// Thresholds are the unrealized P&L percentages at which the monitor closes.
type Thresholds struct {
	StopPercent   float64 `json:"stop_percent"`
	TargetPercent float64 `json:"target_percent"`
}

// ThresholdParams are the settings the monitor derives thresholds from.
type ThresholdParams struct {
	StopMultiplier float64
	RewardRatio    float64
	Posture        RiskPosture
}

// ComputeThresholds derives stop% and target% from ATR relative to price.
// The base stop is ATR/price×100×StopMultiplier; the target is the base stop
// times RewardRatio. Posture factors are applied to each independently.
func ComputeThresholds(atr, price float64, p ThresholdParams) (Thresholds, bool) {
	if atr <= 0 || price <= 0 || p.StopMultiplier <= 0 {
		return Thresholds{}, false
	}
	stopFactor, targetFactor := p.Posture.Factors()
	base := atr / price * 100 * p.StopMultiplier
	return Thresholds{
		StopPercent:   base * stopFactor,
		TargetPercent: base * p.RewardRatio * targetFactor,
	}, true
}

// Breached reports "stop", "target" or "" for an unrealized P&L percentage.
func (t Thresholds) Breached(pnlPercent float64) string {
	switch {
	case pnlPercent <= -t.StopPercent:
		return "stop"
	case pnlPercent >= t.TargetPercent:
		return "target"
	}
	return ""
}
