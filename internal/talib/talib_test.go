package talib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestMovingAverages_ConstantSeries(t *testing.T) {
	prices := constant(40, 50)

	sma := Sma(prices, 10)
	require.NotEmpty(t, sma)
	last, ok := Last(sma)
	require.True(t, ok)
	assert.InDelta(t, 50, last, 1e-9)

	ema := Ema(prices, 10)
	require.NotEmpty(t, ema)
	last, _ = Last(ema)
	assert.InDelta(t, 50, last, 1e-9)
}

func TestSma_RisingSeriesLagsPrice(t *testing.T) {
	prices := rising(30, 100, 1)
	sma, ok := Last(Sma(prices, 5))
	require.True(t, ok)
	assert.InDelta(t, 127, sma, 1e-9)
}

func TestLengthGuards(t *testing.T) {
	short := rising(5, 1, 1)
	assert.Nil(t, Sma(short, 10))
	assert.Nil(t, Ema(short, 10))
	assert.Nil(t, Rsi(short, 14))
	assert.Nil(t, Atr(short, short, short, 14))
	m, s, h := Macd(short, 12, 26, 9)
	assert.Nil(t, m)
	assert.Nil(t, s)
	assert.Nil(t, h)
	u, mid, l := BBands(short, 20)
	assert.Nil(t, u)
	assert.Nil(t, mid)
	assert.Nil(t, l)
}

func TestAtr_ConstantRange(t *testing.T) {
	n := 40
	high := constant(n, 101)
	low := constant(n, 99)
	closes := constant(n, 100)

	atr, ok := Last(Atr(high, low, closes, 14))
	require.True(t, ok)
	assert.InDelta(t, 2, atr, 1e-6)
}

func TestBBands_Ordering(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i%5)
	}
	upper, middle, lower := BBands(prices, 20)
	require.NotEmpty(t, upper)
	u, _ := Last(upper)
	m, _ := Last(middle)
	l, _ := Last(lower)
	assert.Greater(t, u, m)
	assert.Greater(t, m, l)
}

func TestMacd_Aligned(t *testing.T) {
	prices := rising(80, 10, 0.5)
	macd, signal, hist := Macd(prices, 12, 26, 9)
	require.NotEmpty(t, hist)
	assert.Equal(t, len(macd), len(signal))
	assert.Equal(t, len(macd), len(hist))
}

func TestLastN(t *testing.T) {
	assert.Equal(t, []float64{3, 4}, LastN([]float64{1, 2, 3, 4}, 2))
	assert.Nil(t, LastN([]float64{1}, 2))
	_, ok := Last(nil)
	assert.False(t, ok)
}
