// Package talib adapts cinar/indicator channel pipelines and goflux candle
// series to plain slices. Outputs are shorter than inputs by each indicator's idle period, so
// callers should read from the end with Last or LastN.
package talib

import (
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

func Sma(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return nil
	}
	c := helper.SliceToChan(prices)
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(c))
}

func Ema(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return nil
	}
	c := helper.SliceToChan(prices)
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(c))
}

func Rsi(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period+1 {
		return nil
	}
	c := helper.SliceToChan(prices)
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(c))
}

// Macd returns the MACD line, the signal line and their difference,
// aligned on the most recent value.
func Macd(prices []float64, fastPeriod, slowPeriod, signalPeriod int) ([]float64, []float64, []float64) {
	if len(prices) < slowPeriod+signalPeriod {
		return nil, nil, nil
	}
	c := helper.SliceToChan(prices)
	macd := trend.NewMacdWithPeriod[float64](fastPeriod, slowPeriod, signalPeriod)
	macdLine, signal := macd.Compute(c)

	var (
		macdValues   []float64
		signalValues []float64
		wg           sync.WaitGroup
	)

	// both channels must be drained together or the pipeline blocks
	wg.Add(2)
	go func() {
		defer wg.Done()
		macdValues = helper.ChanToSlice(macdLine)
	}()
	go func() {
		defer wg.Done()
		signalValues = helper.ChanToSlice(signal)
	}()
	wg.Wait()

	n := min(len(macdValues), len(signalValues))
	macdValues = macdValues[len(macdValues)-n:]
	signalValues = signalValues[len(signalValues)-n:]

	histogram := make([]float64, n)
	for i := range n {
		histogram[i] = macdValues[i] - signalValues[i]
	}
	return macdValues, signalValues, histogram
}

// BBands returns upper, middle and lower Bollinger bands (2 standard deviations).
func BBands(prices []float64, period int) ([]float64, []float64, []float64) {
	if period < 1 || len(prices) < period {
		return nil, nil, nil
	}
	c := helper.SliceToChan(prices)
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upper, middle, lower := bb.Compute(c)

	var (
		upperValues  []float64
		middleValues []float64
		lowerValues  []float64
		wg           sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		upperValues = helper.ChanToSlice(upper)
	}()
	go func() {
		defer wg.Done()
		middleValues = helper.ChanToSlice(middle)
	}()
	go func() {
		defer wg.Done()
		lowerValues = helper.ChanToSlice(lower)
	}()
	wg.Wait()

	return upperValues, middleValues, lowerValues
}

func Atr(high, low, close []float64, period int) []float64 {
	if period < 1 || len(high) <= period || len(low) <= period || len(close) <= period {
		return nil
	}
	h := helper.SliceToChan(high)
	l := helper.SliceToChan(low)
	c := helper.SliceToChan(close)
	atr := volatility.NewAtrWithPeriod[float64](period)
	return helper.ChanToSlice(atr.Compute(h, l, c))
}

// Last returns the final element of values.
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// LastN returns the final n elements of values, or nil if there are fewer.
func LastN(values []float64, n int) []float64 {
	if n < 1 || len(values) < n {
		return nil
	}
	return values[len(values)-n:]
}
