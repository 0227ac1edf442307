package alpaca

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
)

// Feed implements interfaces.MarketDataPort over the Alpaca data API. The
// universe is a fixed watchlist.
type Feed struct {
	api       dataAPI
	feed      marketdata.Feed
	watchlist []string
	now       func() time.Time
}

var _ interfaces.MarketDataPort = (*Feed)(nil)

// NewFeed creates a feed. feed is "iex" or "sip".
func NewFeed(api dataAPI, feed string, watchlist []string) *Feed {
	return &Feed{
		api:       api,
		feed:      marketdata.Feed(strings.ToLower(feed)),
		watchlist: append([]string(nil), watchlist...),
		now:       time.Now,
	}
}

func (f *Feed) GetUniverse(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.watchlist) == 0 {
		return nil, fmt.Errorf("universe: watchlist is empty")
	}
	return append([]string(nil), f.watchlist...), nil
}

func (f *Feed) GetHistoricalBars(ctx context.Context, symbol, duration, barSize string) ([]interfaces.Bar, error) {
	tf, err := parseBarSize(barSize)
	if err != nil {
		return nil, err
	}
	lookback, err := parseDuration(duration)
	if err != nil {
		return nil, err
	}

	req := marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     f.now().Add(-lookback),
		Feed:      f.feed,
	}
	raw, err := call(ctx, func() ([]marketdata.Bar, error) { return f.api.GetBars(symbol, req) })
	if err != nil {
		return nil, mapError("get bars "+symbol, err)
	}

	bars := make([]interfaces.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, interfaces.Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return bars, nil
}

func (f *Feed) GetMarketSnapshot(ctx context.Context, symbol string) (*interfaces.Snapshot, error) {
	snaps, err := f.GetBatchSnapshots(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	s, ok := snaps[symbol]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: no data", symbol)
	}
	return s, nil
}

func (f *Feed) GetBatchSnapshots(ctx context.Context, symbols []string) (map[string]*interfaces.Snapshot, error) {
	req := marketdata.GetSnapshotRequest{Feed: f.feed}
	raw, err := call(ctx, func() (map[string]*marketdata.Snapshot, error) { return f.api.GetSnapshots(symbols, req) })
	if err != nil {
		return nil, mapError("get snapshots", err)
	}

	out := make(map[string]*interfaces.Snapshot, len(raw))
	for sym, s := range raw {
		if snap := toSnapshot(sym, s); snap != nil {
			out[sym] = snap
		}
	}
	return out, nil
}

// toSnapshot prefers the latest trade for the price and falls back to the
// minute bar. A snapshot with neither is dropped.
func toSnapshot(symbol string, s *marketdata.Snapshot) *interfaces.Snapshot {
	if s == nil {
		return nil
	}
	out := &interfaces.Snapshot{Symbol: symbol}
	switch {
	case s.LatestTrade != nil && s.LatestTrade.Price > 0:
		out.Price = s.LatestTrade.Price
		out.Timestamp = s.LatestTrade.Timestamp
	case s.MinuteBar != nil && s.MinuteBar.Close > 0:
		out.Price = s.MinuteBar.Close
		out.Timestamp = s.MinuteBar.Timestamp
	default:
		return nil
	}
	if q := s.LatestQuote; q != nil {
		out.Bid = q.BidPrice
		out.Ask = q.AskPrice
		out.BidSize = float64(q.BidSize)
		out.AskSize = float64(q.AskSize)
	}
	if s.DailyBar != nil {
		out.Volume = float64(s.DailyBar.Volume)
	}
	if s.PrevDailyBar != nil && s.PrevDailyBar.Close > 0 {
		out.PrevClose = s.PrevDailyBar.Close
		out.Change = out.Price - out.PrevClose
		out.ChangePct = out.Change / out.PrevClose * 100
	}
	return out
}

// parseBarSize reads sizes such as "5 mins", "1 hour" or "1 day".
func parseBarSize(s string) (marketdata.TimeFrame, error) {
	n, unit, err := splitAmount(s)
	if err != nil {
		return marketdata.TimeFrame{}, fmt.Errorf("bar size %q: %w", s, err)
	}
	switch strings.TrimSuffix(unit, "s") {
	case "min":
		return marketdata.NewTimeFrame(n, marketdata.Min), nil
	case "hour":
		return marketdata.NewTimeFrame(n, marketdata.Hour), nil
	case "day":
		return marketdata.NewTimeFrame(n, marketdata.Day), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("bar size %q: unsupported unit %q", s, unit)
}

// parseDuration reads lookbacks such as "2 D", "1 W" or "3600 S". Day counts
// are trading days, so the calendar span is widened to cover weekends.
func parseDuration(s string) (time.Duration, error) {
	n, unit, err := splitAmount(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	const day = 24 * time.Hour
	switch strings.ToUpper(unit) {
	case "S":
		return time.Duration(n) * time.Second, nil
	case "D":
		calendarDays := n + 2*(n/5+1)
		return time.Duration(calendarDays) * day, nil
	case "W":
		return time.Duration(n) * 7 * day, nil
	case "M":
		return time.Duration(n) * 31 * day, nil
	}
	return 0, fmt.Errorf("duration %q: unsupported unit %q", s, unit)
}

func splitAmount(s string) (int, string, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("want \"<amount> <unit>\"")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("amount must be a positive integer")
	}
	return n, fields[1], nil
}
