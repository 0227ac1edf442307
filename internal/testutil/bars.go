package testutil

import (
	"time"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// LinearBars builds n bars whose close moves by step each bar. High and low
// sit half a point either side of the close.
func LinearBars(n int, start, step, volume float64, from time.Time, interval time.Duration) []interfaces.Bar {
	bars := make([]interfaces.Bar, n)
	price := start
	for i := range bars {
		open := price
		price += step
		bars[i] = interfaces.Bar{
			Timestamp: from.Add(time.Duration(i) * interval),
			Open:      open,
			High:      max(open, price) + 0.5,
			Low:       min(open, price) - 0.5,
			Close:     price,
			Volume:    volume,
		}
	}
	return bars
}
