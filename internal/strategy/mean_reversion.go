package strategy

import (
	"fmt"

	"github.com/irfndi/neuratrade-intraday/internal/talib"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// RsiReversal fades oversold and overbought RSI readings.
type RsiReversal struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func NewRsiReversal(period int, oversold, overbought float64) *RsiReversal {
	return &RsiReversal{Period: period, Oversold: oversold, Overbought: overbought}
}

func (r *RsiReversal) Name() string { return "rsi_reversal" }

func (r *RsiReversal) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	rsi, ok := talib.Last(talib.Rsi(closes(bars), r.Period))
	if !ok {
		return nil
	}
	switch {
	case rsi < r.Oversold:
		depth := (r.Oversold - rsi) / r.Oversold
		return newSignal(r.Name(), symbol, ActionBuy, 0.55+depth*0.4,
			fmt.Sprintf("RSI %.1f below %.0f", rsi, r.Oversold))
	case rsi > r.Overbought:
		depth := (rsi - r.Overbought) / (100 - r.Overbought)
		return newSignal(r.Name(), symbol, ActionSell, 0.55+depth*0.4,
			fmt.Sprintf("RSI %.1f above %.0f", rsi, r.Overbought))
	}
	return nil
}

// BollingerReversion fades closes outside the Bollinger bands, targeting the middle band.
type BollingerReversion struct {
	Period int
}

func NewBollingerReversion(period int) *BollingerReversion {
	return &BollingerReversion{Period: period}
}

func (b *BollingerReversion) Name() string { return "bollinger_reversion" }

func (b *BollingerReversion) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	upper, middle, lower := talib.BBands(closes(bars), b.Period)
	u, ok1 := talib.Last(upper)
	m, ok2 := talib.Last(middle)
	l, ok3 := talib.Last(lower)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}
	price := bars[len(bars)-1].Close
	switch {
	case price < l:
		return newSignal(b.Name(), symbol, ActionBuy, 0.6,
			fmt.Sprintf("close %.2f below lower band %.2f", price, l)).withLevels(0, m)
	case price > u:
		return newSignal(b.Name(), symbol, ActionSell, 0.6,
			fmt.Sprintf("close %.2f above upper band %.2f", price, u)).withLevels(0, m)
	}
	return nil
}

// VwapReversion fades stretches away from the session VWAP.
type VwapReversion struct {
	DeviationPercent float64
}

func NewVwapReversion(deviationPercent float64) *VwapReversion {
	return &VwapReversion{DeviationPercent: deviationPercent}
}

func (v *VwapReversion) Name() string { return "vwap_reversion" }

func (v *VwapReversion) Evaluate(symbol string, bars []interfaces.Bar) *Signal {
	today, _ := sessionBars(bars)
	if len(today) < 6 {
		return nil
	}
	vw, ok := vwap(today)
	if !ok {
		return nil
	}
	price := today[len(today)-1].Close
	dev := pctChange(vw, price)
	switch {
	case dev <= -v.DeviationPercent:
		return newSignal(v.Name(), symbol, ActionBuy, 0.5+clamp(-dev/10, 0, 0.3),
			fmt.Sprintf("%.2f%% below VWAP %.2f", -dev, vw)).withLevels(0, vw)
	case dev >= v.DeviationPercent:
		return newSignal(v.Name(), symbol, ActionSell, 0.5+clamp(dev/10, 0, 0.3),
			fmt.Sprintf("%.2f%% above VWAP %.2f", dev, vw)).withLevels(0, vw)
	}
	return nil
}
