package strategy

import (
	"fmt"
	"math"

	"github.com/irfndi/neuratrade-intraday/internal/talib"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// SmaCrossover signals when the fast SMA crosses the slow SMA.
type SmaCrossover struct {
	Fast int
	Slow int
}

func NewSmaCrossover(fast, slow int) *SmaCrossover {
	return &SmaCrossover{Fast: fast, Slow: slow}
}

func (s *SmaCrossover) Name() string { return "sma_crossover" }

func (s *SmaCrossover) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	c := closes(bars)
	fast := talib.LastN(talib.Sma(c, s.Fast), 2)
	slow := talib.LastN(talib.Sma(c, s.Slow), 2)
	if fast == nil || slow == nil {
		return nil
	}

	gap := math.Abs(fast[1]-slow[1]) / slow[1] * 100
	confidence := 0.55 + math.Min(gap*0.2, 0.35)

	switch {
	case fast[0] <= slow[0] && fast[1] > slow[1]:
		return newSignal(s.Name(), symbol, ActionBuy, confidence,
			fmt.Sprintf("SMA%d crossed above SMA%d", s.Fast, s.Slow))
	case fast[0] >= slow[0] && fast[1] < slow[1]:
		return newSignal(s.Name(), symbol, ActionSell, confidence,
			fmt.Sprintf("SMA%d crossed below SMA%d", s.Fast, s.Slow))
	}
	return nil
}

// EmaTrend signals when price and both EMAs are stacked in one direction.
type EmaTrend struct {
	Fast int
	Slow int
}

func NewEmaTrend(fast, slow int) *EmaTrend {
	return &EmaTrend{Fast: fast, Slow: slow}
}

func (e *EmaTrend) Name() string { return "ema_trend" }

func (e *EmaTrend) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	c := closes(bars)
	fast := talib.LastN(talib.DecimalEma(c, e.Fast), 2)
	slow, ok := talib.Last(talib.DecimalEma(c, e.Slow))
	if fast == nil || !ok || len(c) == 0 {
		return nil
	}
	price := c[len(c)-1]
	spread := math.Abs(fast[1]-slow) / slow * 100
	confidence := 0.5 + math.Min(spread*0.15, 0.3)

	switch {
	case price > fast[1] && fast[1] > slow && fast[1] > fast[0]:
		return newSignal(e.Name(), symbol, ActionBuy, confidence,
			fmt.Sprintf("price above rising EMA%d above EMA%d", e.Fast, e.Slow)).
			withLevels(slow, 0)
	case price < fast[1] && fast[1] < slow && fast[1] < fast[0]:
		return newSignal(e.Name(), symbol, ActionSell, confidence,
			fmt.Sprintf("price below falling EMA%d below EMA%d", e.Fast, e.Slow)).
			withLevels(slow, 0)
	}
	return nil
}

// MacdCrossover signals when the MACD histogram changes sign.
type MacdCrossover struct {
	Fast, Slow, SignalPeriod int
}

func NewMacdCrossover(fast, slow, signal int) *MacdCrossover {
	return &MacdCrossover{Fast: fast, Slow: slow, SignalPeriod: signal}
}

func (m *MacdCrossover) Name() string { return "macd_crossover" }

func (m *MacdCrossover) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	_, _, hist := talib.Macd(closes(bars), m.Fast, m.Slow, m.SignalPeriod)
	h := talib.LastN(hist, 2)
	if h == nil {
		return nil
	}
	switch {
	case h[0] <= 0 && h[1] > 0:
		return newSignal(m.Name(), symbol, ActionBuy, 0.6, "MACD crossed above signal line")
	case h[0] >= 0 && h[1] < 0:
		return newSignal(m.Name(), symbol, ActionSell, 0.6, "MACD crossed below signal line")
	}
	return nil
}
