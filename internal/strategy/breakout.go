package strategy

import (
	"fmt"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// RangeBreakout signals a close beyond the high or low of the lookback window.
type RangeBreakout struct {
	Lookback int
}

func NewRangeBreakout(lookback int) *RangeBreakout {
	return &RangeBreakout{Lookback: lookback}
}

func (r *RangeBreakout) Name() string { return "range_breakout" }

func (r *RangeBreakout) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	if len(bars) < r.Lookback+1 {
		return nil
	}
	window := bars[len(bars)-r.Lookback-1 : len(bars)-1]
	last := bars[len(bars)-1]
	hi, lo := maxHigh(window), minLow(window)

	switch {
	case last.Close > hi:
		return newSignal(r.Name(), symbol, ActionBuy, 0.6,
			fmt.Sprintf("close above %d-bar high %.2f", r.Lookback, hi)).withLevels(lo, 0)
	case last.Close < lo:
		return newSignal(r.Name(), symbol, ActionSell, 0.6,
			fmt.Sprintf("close below %d-bar low %.2f", r.Lookback, lo)).withLevels(hi, 0)
	}
	return nil
}

// VolumeBreakout signals a wide-range bar on a volume surge closing near its extreme.
type VolumeBreakout struct {
	Lookback       int
	VolumeMultiple float64
}

func NewVolumeBreakout(lookback int, multiple float64) *VolumeBreakout {
	return &VolumeBreakout{Lookback: lookback, VolumeMultiple: multiple}
}

func (v *VolumeBreakout) Name() string { return "volume_breakout" }

func (v *VolumeBreakout) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	if len(bars) < v.Lookback+1 {
		return nil
	}
	last := bars[len(bars)-1]
	avg := avgVolume(bars[len(bars)-v.Lookback-1 : len(bars)-1])
	if avg <= 0 || last.Volume < avg*v.VolumeMultiple {
		return nil
	}
	rng := last.High - last.Low
	if rng <= 0 {
		return nil
	}
	ratio := last.Volume / avg
	confidence := 0.55 + clamp((ratio-v.VolumeMultiple)*0.05, 0, 0.3)
	position := (last.Close - last.Low) / rng

	switch {
	case last.Close > last.Open && position >= 0.75:
		return newSignal(v.Name(), symbol, ActionBuy, confidence,
			fmt.Sprintf("volume %.1fx average on strong up bar", ratio)).withLevels(last.Low, 0)
	case last.Close < last.Open && position <= 0.25:
		return newSignal(v.Name(), symbol, ActionSell, confidence,
			fmt.Sprintf("volume %.1fx average on strong down bar", ratio)).withLevels(last.High, 0)
	}
	return nil
}
