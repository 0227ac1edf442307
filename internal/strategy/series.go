package strategy

import (
	"time"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

var marketLocation = loadMarketLocation()

func loadMarketLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

func closes(bars []interfaces.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highs(bars []interfaces.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []interfaces.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func maxHigh(bars []interfaces.Bar) float64 {
	m := bars[0].High
	for _, b := range bars[1:] {
		if b.High > m {
			m = b.High
		}
	}
	return m
}

func minLow(bars []interfaces.Bar) float64 {
	m := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < m {
			m = b.Low
		}
	}
	return m
}

func avgVolume(bars []interfaces.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}

// sessionBars returns the bars sharing the last bar's exchange-local date,
// plus the bars of all earlier sessions.
func sessionBars(bars []interfaces.Bar) (today, before []interfaces.Bar) {
	if len(bars) == 0 {
		return nil, nil
	}
	y, m, d := bars[len(bars)-1].Timestamp.In(marketLocation).Date()
	i := len(bars)
	for i > 0 {
		by, bm, bd := bars[i-1].Timestamp.In(marketLocation).Date()
		if by != y || bm != m || bd != d {
			break
		}
		i--
	}
	return bars[i:], bars[:i]
}

// vwap is the volume-weighted typical price of bars.
func vwap(bars []interfaces.Bar) (float64, bool) {
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// minutesSinceOpen returns how far t is past the 09:30 exchange-local open.
func minutesSinceOpen(t time.Time) float64 {
	lt := t.In(marketLocation)
	open := time.Date(lt.Year(), lt.Month(), lt.Day(), 9, 30, 0, 0, marketLocation)
	return lt.Sub(open).Minutes()
}

func body(b interfaces.Bar) float64 {
	if b.Close > b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
