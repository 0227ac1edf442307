package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/talib"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// atrSource computes the ATR that sizes stops from recent bars and memoizes
// it in State.
type atrSource struct {
	marketData interfaces.MarketDataPort
	state      *State
	period     int
	ttl        time.Duration
	duration   string
	barSize    string
}

func (a *atrSource) get(ctx context.Context, symbol string) (float64, error) {
	if v, ok := a.state.CachedATR(symbol, a.ttl); ok {
		return v, nil
	}
	bars, err := a.marketData.GetHistoricalBars(ctx, symbol, a.duration, a.barSize)
	if err != nil {
		return 0, fmt.Errorf("%w: bars for %s: %v", ErrTransientData, symbol, err)
	}
	v, ok := atrFromBars(bars, a.period)
	if !ok {
		return 0, fmt.Errorf("%w: not enough bars for ATR on %s", ErrTransientData, symbol)
	}
	a.state.StoreATR(symbol, v)
	return v, nil
}

// prime stores an ATR computed from bars the scan loop already holds.
func (a *atrSource) prime(symbol string, bars []interfaces.Bar) {
	if v, ok := atrFromBars(bars, a.period); ok {
		a.state.StoreATR(symbol, v)
	}
}

func atrFromBars(bars []interfaces.Bar, period int) (float64, bool) {
	if len(bars) <= period {
		return 0, false
	}
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		high[i], low[i], closes[i] = b.High, b.Low, b.Close
	}
	v, ok := talib.Last(talib.DecimalAtr(high, low, closes, period))
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
