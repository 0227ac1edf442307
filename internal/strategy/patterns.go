package strategy

import (
	"fmt"

	"github.com/irfndi/neuratrade-intraday/internal/talib"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

type BullishEngulfing struct{}

func NewBullishEngulfing() *BullishEngulfing { return &BullishEngulfing{} }

func (BullishEngulfing) Name() string { return "bullish_engulfing" }

func (e BullishEngulfing) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	if len(bars) < 2 {
		return nil
	}
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	if prev.Close < prev.Open && cur.Close > cur.Open &&
		cur.Open <= prev.Close && cur.Close >= prev.Open && body(cur) > body(prev) {
		return newSignal(e.Name(), symbol, ActionBuy, 0.6, "bullish engulfing candle").
			withLevels(min(prev.Low, cur.Low), 0)
	}
	return nil
}

type BearishEngulfing struct{}

func NewBearishEngulfing() *BearishEngulfing { return &BearishEngulfing{} }

func (BearishEngulfing) Name() string { return "bearish_engulfing" }

func (e BearishEngulfing) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	if len(bars) < 2 {
		return nil
	}
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	if prev.Close > prev.Open && cur.Close < cur.Open &&
		cur.Open >= prev.Close && cur.Close <= prev.Open && body(cur) > body(prev) {
		return newSignal(e.Name(), symbol, ActionSell, 0.6, "bearish engulfing candle").
			withLevels(max(prev.High, cur.High), 0)
	}
	return nil
}

// HammerReversal detects a hammer below the 10-bar SMA, or a shooting star above it.
type HammerReversal struct{}

func NewHammerReversal() *HammerReversal { return &HammerReversal{} }

func (HammerReversal) Name() string { return "hammer_reversal" }

func (h HammerReversal) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	sma, ok := talib.Last(talib.Sma(closes(bars), 10))
	if !ok {
		return nil
	}
	cur := bars[len(bars)-1]
	b := body(cur)
	if b == 0 {
		return nil
	}
	upper := cur.High - max(cur.Open, cur.Close)
	lower := min(cur.Open, cur.Close) - cur.Low

	switch {
	case lower >= 2*b && upper <= b && cur.Close < sma:
		return newSignal(h.Name(), symbol, ActionBuy, 0.55,
			fmt.Sprintf("hammer below SMA10 %.2f", sma)).withLevels(cur.Low, 0)
	case upper >= 2*b && lower <= b && cur.Close > sma:
		return newSignal(h.Name(), symbol, ActionSell, 0.55,
			fmt.Sprintf("shooting star above SMA10 %.2f", sma)).withLevels(cur.High, 0)
	}
	return nil
}

// GapAndGo follows an opening gap that keeps extending in the gap direction.
type GapAndGo struct {
	MinGapPercent float64
}

func NewGapAndGo(minGapPercent float64) *GapAndGo {
	return &GapAndGo{MinGapPercent: minGapPercent}
}

func (g *GapAndGo) Name() string { return "gap_and_go" }

func (g *GapAndGo) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	today, before := sessionBars(bars)
	if len(today) < 2 || len(before) == 0 {
		return nil
	}
	prevClose := before[len(before)-1].Close
	open := today[0].Open
	last := today[len(today)-1]
	gap := pctChange(prevClose, open)

	switch {
	case gap >= g.MinGapPercent && last.Close > open:
		return newSignal(g.Name(), symbol, ActionBuy, 0.55+clamp(gap/20, 0, 0.3),
			fmt.Sprintf("gapped up %.1f%% and holding above open", gap)).withLevels(prevClose, 0)
	case gap <= -g.MinGapPercent && last.Close < open:
		return newSignal(g.Name(), symbol, ActionSell, 0.55+clamp(-gap/20, 0, 0.3),
			fmt.Sprintf("gapped down %.1f%% and holding below open", -gap)).withLevels(prevClose, 0)
	}
	return nil
}
