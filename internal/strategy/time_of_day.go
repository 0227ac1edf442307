package strategy

import (
	"fmt"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// OpeningRangeBreakout trades a break of the first RangeMinutes of the session.
// It stays silent after 11:30 exchange time.
type OpeningRangeBreakout struct {
	RangeMinutes float64
}

func NewOpeningRangeBreakout(rangeMinutes float64) *OpeningRangeBreakout {
	return &OpeningRangeBreakout{RangeMinutes: rangeMinutes}
}

func (o *OpeningRangeBreakout) Name() string { return "opening_range_breakout" }

func (o *OpeningRangeBreakout) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	today, _ := sessionBars(bars)
	if len(today) < 2 {
		return nil
	}
	last := today[len(today)-1]
	elapsed := minutesSinceOpen(last.Timestamp)
	if elapsed < o.RangeMinutes || elapsed > 120 {
		return nil
	}

	var opening []interfaces.Bar
	for _, b := range today {
		m := minutesSinceOpen(b.Timestamp)
		if m >= 0 && m < o.RangeMinutes {
			opening = append(opening, b)
		}
	}
	if len(opening) == 0 {
		return nil
	}
	hi, lo := maxHigh(opening), minLow(opening)

	switch {
	case last.Close > hi:
		return newSignal(o.Name(), symbol, ActionBuy, 0.65,
			fmt.Sprintf("broke %.0f-minute opening range high %.2f", o.RangeMinutes, hi)).withLevels(lo, 0)
	case last.Close < lo:
		return newSignal(o.Name(), symbol, ActionSell, 0.65,
			fmt.Sprintf("broke %.0f-minute opening range low %.2f", o.RangeMinutes, lo)).withLevels(hi, 0)
	}
	return nil
}

// PowerHourMomentum follows the move since 15:00 when it agrees with VWAP.
type PowerHourMomentum struct {
	MinMovePercent float64
}

func NewPowerHourMomentum(minMovePercent float64) *PowerHourMomentum {
	return &PowerHourMomentum{MinMovePercent: minMovePercent}
}

func (p *PowerHourMomentum) Name() string { return "power_hour_momentum" }

func (p *PowerHourMomentum) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	today, _ := sessionBars(bars)
	if len(today) < 2 {
		return nil
	}
	last := today[len(today)-1]
	elapsed := minutesSinceOpen(last.Timestamp)
	// 15:00 to 16:00 exchange time
	if elapsed < 330 || elapsed >= 390 {
		return nil
	}

	var anchor *interfaces.Bar
	for i := range today {
		if minutesSinceOpen(today[i].Timestamp) >= 330 {
			anchor = &today[i]
			break
		}
	}
	vw, ok := vwap(today)
	if anchor == nil || !ok || anchor == &today[len(today)-1] {
		return nil
	}

	move := pctChange(anchor.Open, last.Close)
	switch {
	case move >= p.MinMovePercent && last.Close > vw:
		return newSignal(p.Name(), symbol, ActionBuy, 0.55,
			fmt.Sprintf("power hour up %.2f%% above VWAP", move))
	case move <= -p.MinMovePercent && last.Close < vw:
		return newSignal(p.Name(), symbol, ActionSell, 0.55,
			fmt.Sprintf("power hour down %.2f%% below VWAP", -move))
	}
	return nil
}
