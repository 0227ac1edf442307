package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned by vendor adapters when the upstream answered
// with "too many requests".
var ErrRateLimited = errors.New("market data: rate limited")

// Bar is a single OHLCV candle.
type Bar struct {
	// Timestamp is the bar open time
	Timestamp time.Time `json:"timestamp"`
	// Open is the first traded price of the bar
	Open float64 `json:"open"`
	// High is the highest traded price of the bar
	High float64 `json:"high"`
	// Low is the lowest traded price of the bar
	Low float64 `json:"low"`
	// Close is the last traded price of the bar
	Close float64 `json:"close"`
	// Volume is the traded volume of the bar
	Volume float64 `json:"volume"`
}

// Snapshot is a live quote for a single symbol.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Volume    float64   `json:"volume"`
	PrevClose float64   `json:"prev_close"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// HasQuote reports whether both sides of the book are known.
func (s Snapshot) HasQuote() bool {
	return s.Bid > 0 && s.Ask > 0 && s.Ask >= s.Bid
}

// SpreadPercent returns the bid/ask spread relative to the mid price.
// It returns 0 when the quote is unknown.
func (s Snapshot) SpreadPercent() float64 {
	if !s.HasQuote() {
		return 0
	}
	mid := (s.Bid + s.Ask) / 2
	return (s.Ask - s.Bid) / mid * 100
}

// MarketDataPort is the contract for market-data vendors.
type MarketDataPort interface {
	// GetUniverse returns the symbols eligible for scanning.
	GetUniverse(ctx context.Context) ([]string, error)

	// GetHistoricalBars returns bars for symbol, oldest first.
	//
	// Parameters:
	//   - ctx: Context for the request
	//   - symbol: Instrument symbol
	//   - duration: Lookback window (e.g. "1 D", "5 D")
	//   - barSize: Bar granularity (e.g. "5 mins")
	//
	// Returns:
	//   - []Bar: Bars ordered oldest to newest
	//   - error: Any error that occurred
	GetHistoricalBars(ctx context.Context, symbol, duration, barSize string) ([]Bar, error)

	// GetMarketSnapshot returns the latest quote for symbol.
	GetMarketSnapshot(ctx context.Context, symbol string) (*Snapshot, error)

	// GetBatchSnapshots returns quotes for several symbols at once.
	// Symbols the vendor could not resolve are absent from the map.
	GetBatchSnapshots(ctx context.Context, symbols []string) (map[string]*Snapshot, error)
}
