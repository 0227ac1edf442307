package talib

import (
	"time"

	godecimal "github.com/irfndi/goflux/pkg/decimal"
	"github.com/irfndi/goflux/pkg/indicators"
	"github.com/irfndi/goflux/pkg/series"
)

// The goflux indicators work on candle series with decimal arithmetic. They
// back the stop distance, where rounding in the float pipelines would leak
// into order sizing.

var seriesEpoch = time.Unix(0, 0)

// DecimalAtr is Atr computed by goflux. Like the channel version it drops
// the warm-up, so the result is shorter than the input.
func DecimalAtr(high, low, close []float64, period int) []float64 {
	n := len(close)
	if period < 1 || n <= period || len(high) != n || len(low) != n {
		return nil
	}
	ts := ohlcSeries(high, low, close)
	atr := indicators.NewAverageTrueRangeIndicator(ts, period)
	return indicatorValues(ts.Candles, atr, period)
}

// DecimalEma is Ema computed by goflux.
func DecimalEma(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return nil
	}
	ts := ohlcSeries(prices, prices, prices)
	ema := indicators.NewEMAIndicator(indicators.NewClosePriceIndicator(ts), period)
	return indicatorValues(ts.Candles, ema, period-1)
}

func ohlcSeries(high, low, close []float64) *series.TimeSeries {
	ts := series.NewTimeSeries()
	for i := range close {
		period := series.NewTimePeriod(seriesEpoch.Add(time.Duration(i)*time.Minute), time.Minute)
		candle := series.NewCandle(period)
		candle.OpenPrice = godecimal.New(close[i])
		candle.ClosePrice = godecimal.New(close[i])
		candle.MaxPrice = godecimal.New(high[i])
		candle.MinPrice = godecimal.New(low[i])
		candle.Volume = godecimal.New(0)
		ts.AddCandle(candle)
	}
	return ts
}

func indicatorValues(candles []*series.Candle, ind indicators.Indicator, from int) []float64 {
	if from < 0 || from >= len(candles) {
		return nil
	}
	values := make([]float64, 0, len(candles)-from)
	for i := from; i < len(candles); i++ {
		values = append(values, ind.Calculate(i).Float())
	}
	return values
}
