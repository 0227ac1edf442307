package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeData struct {
	bars      []marketdata.Bar
	snapshots map[string]*marketdata.Snapshot
	err       error

	barSymbol string
	barReq    marketdata.GetBarsRequest
	snapReq   marketdata.GetSnapshotRequest
	symbols   []string
}

func (f *fakeData) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.barSymbol = symbol
	f.barReq = req
	return f.bars, f.err
}

func (f *fakeData) GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error) {
	f.symbols = symbols
	f.snapReq = req
	return f.snapshots, f.err
}

func TestFeed_GetUniverse(t *testing.T) {
	watch := []string{"SPY", "QQQ"}
	f := NewFeed(&fakeData{}, "iex", watch)

	got, err := f.GetUniverse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY", "QQQ"}, got)

	got[0] = "XXX"
	watch[1] = "YYY"
	again, _ := f.GetUniverse(context.Background())
	assert.Equal(t, []string{"SPY", "QQQ"}, again)

	_, err = NewFeed(&fakeData{}, "iex", nil).GetUniverse(context.Background())
	assert.Error(t, err)
}

func TestFeed_GetHistoricalBars(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	api := &fakeData{bars: []marketdata.Bar{
		{Timestamp: t0, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1200},
		{Timestamp: t0.Add(5 * time.Minute), Open: 10.5, High: 10.8, Low: 10.1, Close: 10.7, Volume: 800},
	}}
	f := NewFeed(api, "SIP", []string{"AMD"})
	now := t0.Add(time.Hour)
	f.now = func() time.Time { return now }

	bars, err := f.GetHistoricalBars(context.Background(), "AMD", "2 D", "5 mins")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, interfaces.Bar{Timestamp: t0, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1200}, bars[0])

	assert.Equal(t, "AMD", api.barSymbol)
	assert.Equal(t, marketdata.NewTimeFrame(5, marketdata.Min), api.barReq.TimeFrame)
	assert.Equal(t, marketdata.Feed("sip"), api.barReq.Feed)
	assert.Equal(t, now.Add(-4*24*time.Hour), api.barReq.Start)
}

func TestFeed_GetHistoricalBars_Errors(t *testing.T) {
	f := NewFeed(&fakeData{}, "iex", nil)
	_, err := f.GetHistoricalBars(context.Background(), "AMD", "2 D", "5 fortnights")
	assert.ErrorContains(t, err, "unsupported unit")

	_, err = f.GetHistoricalBars(context.Background(), "AMD", "two days", "5 mins")
	assert.Error(t, err)

	f = NewFeed(&fakeData{err: &alpaca.APIError{StatusCode: 429}}, "iex", nil)
	_, err = f.GetHistoricalBars(context.Background(), "AMD", "1 D", "1 min")
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)
}

func TestFeed_Snapshots(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	api := &fakeData{snapshots: map[string]*marketdata.Snapshot{
		"AAPL": {
			LatestTrade:  &marketdata.Trade{Price: 102, Timestamp: ts},
			LatestQuote:  &marketdata.Quote{BidPrice: 101.9, AskPrice: 102.1, BidSize: 3, AskSize: 5},
			DailyBar:     &marketdata.Bar{Volume: 2_500_000},
			PrevDailyBar: &marketdata.Bar{Close: 100},
		},
		"MSFT": {MinuteBar: &marketdata.Bar{Close: 400, Timestamp: ts}},
		"DEAD": {},
		"NIL":  nil,
	}}
	f := NewFeed(api, "iex", nil)

	snaps, err := f.GetBatchSnapshots(context.Background(), []string{"AAPL", "MSFT", "DEAD", "NIL"})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	assert.Equal(t, marketdata.IEX, api.snapReq.Feed)

	aapl := snaps["AAPL"]
	require.NotNil(t, aapl)
	assert.Equal(t, 102.0, aapl.Price)
	assert.Equal(t, ts, aapl.Timestamp)
	assert.True(t, aapl.HasQuote())
	assert.Equal(t, 5.0, aapl.AskSize)
	assert.Equal(t, 2_500_000.0, aapl.Volume)
	assert.Equal(t, 100.0, aapl.PrevClose)
	assert.InDelta(t, 2.0, aapl.Change, 1e-9)
	assert.InDelta(t, 2.0, aapl.ChangePct, 1e-9)

	msft := snaps["MSFT"]
	require.NotNil(t, msft)
	assert.Equal(t, 400.0, msft.Price)
	assert.False(t, msft.HasQuote())
	assert.Zero(t, msft.ChangePct)

	one, err := f.GetMarketSnapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", one.Symbol)
	assert.Equal(t, []string{"AAPL"}, api.symbols)

	_, err = f.GetMarketSnapshot(context.Background(), "DEAD")
	assert.ErrorContains(t, err, "no data")
}

func TestFeed_SnapshotError(t *testing.T) {
	f := NewFeed(&fakeData{err: errors.New("forbidden")}, "iex", nil)
	_, err := f.GetBatchSnapshots(context.Background(), []string{"AAPL"})
	assert.ErrorContains(t, err, "get snapshots")
}

func TestParseBarSize(t *testing.T) {
	tests := []struct {
		in   string
		want marketdata.TimeFrame
		ok   bool
	}{
		{"1 min", marketdata.NewTimeFrame(1, marketdata.Min), true},
		{"5 mins", marketdata.NewTimeFrame(5, marketdata.Min), true},
		{"15 Mins", marketdata.NewTimeFrame(15, marketdata.Min), true},
		{"1 hour", marketdata.NewTimeFrame(1, marketdata.Hour), true},
		{"2 hours", marketdata.NewTimeFrame(2, marketdata.Hour), true},
		{"1 day", marketdata.NewTimeFrame(1, marketdata.Day), true},
		{"0 mins", marketdata.TimeFrame{}, false},
		{"5", marketdata.TimeFrame{}, false},
		{"5 secs", marketdata.TimeFrame{}, false},
	}
	for _, tt := range tests {
		got, err := parseBarSize(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseDuration(t *testing.T) {
	const day = 24 * time.Hour
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"3600 S", time.Hour, true},
		{"1 D", 3 * day, true},
		{"2 D", 4 * day, true},
		{"5 D", 9 * day, true},
		{"1 W", 7 * day, true},
		{"1 M", 31 * day, true},
		{"1 Y", 0, false},
		{"-1 D", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
