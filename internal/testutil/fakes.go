package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// FakeMarketData is an in-memory MarketDataPort. Errors can be injected per
// symbol and the whole port can be switched to answer ErrRateLimited.
type FakeMarketData struct {
	mu          sync.Mutex
	Universe    []string
	Bars        map[string][]interfaces.Bar
	Snapshots   map[string]*interfaces.Snapshot
	SymbolErrs  map[string]error
	RateLimited bool
	Calls       map[string]int
	Delay       time.Duration

	inFlight    int
	MaxInFlight int
}

func NewFakeMarketData() *FakeMarketData {
	return &FakeMarketData{
		Bars:       make(map[string][]interfaces.Bar),
		Snapshots:  make(map[string]*interfaces.Snapshot),
		SymbolErrs: make(map[string]error),
		Calls:      make(map[string]int),
	}
}

// SetRateLimited toggles ErrRateLimited responses.
func (f *FakeMarketData) SetRateLimited(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RateLimited = v
}

func (f *FakeMarketData) SetBars(symbol string, bars []interfaces.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bars[symbol] = bars
}

func (f *FakeMarketData) SetSnapshot(s *interfaces.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots[s.Symbol] = s
}

func (f *FakeMarketData) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *FakeMarketData) begin(method string) error {
	f.mu.Lock()
	f.Calls[method]++
	f.inFlight++
	if f.inFlight > f.MaxInFlight {
		f.MaxInFlight = f.inFlight
	}
	limited := f.RateLimited
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if limited {
		return interfaces.ErrRateLimited
	}
	return nil
}

func (f *FakeMarketData) end() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *FakeMarketData) GetUniverse(context.Context) ([]string, error) {
	defer f.end()
	if err := f.begin("GetUniverse"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Universe...), nil
}

func (f *FakeMarketData) GetHistoricalBars(_ context.Context, symbol, _, _ string) ([]interfaces.Bar, error) {
	defer f.end()
	if err := f.begin("GetHistoricalBars"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SymbolErrs[symbol]; err != nil {
		return nil, err
	}
	bars, ok := f.Bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars for %s", symbol)
	}
	return append([]interfaces.Bar(nil), bars...), nil
}

func (f *FakeMarketData) GetMarketSnapshot(_ context.Context, symbol string) (*interfaces.Snapshot, error) {
	defer f.end()
	if err := f.begin("GetMarketSnapshot"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SymbolErrs[symbol]; err != nil {
		return nil, err
	}
	s, ok := f.Snapshots[symbol]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", symbol)
	}
	cp := *s
	return &cp, nil
}

func (f *FakeMarketData) GetBatchSnapshots(_ context.Context, symbols []string) (map[string]*interfaces.Snapshot, error) {
	defer f.end()
	if err := f.begin("GetBatchSnapshots"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*interfaces.Snapshot, len(symbols))
	for _, sym := range symbols {
		if s, ok := f.Snapshots[sym]; ok {
			cp := *s
			out[sym] = &cp
		}
	}
	return out, nil
}

// PlacedOrder records an order seen by FakeBroker.
type PlacedOrder struct {
	OrderID  string
	Symbol   string
	Quantity int64
	Side     interfaces.OrderSide
}

// FakeBroker is an in-memory BrokerPort that fills market orders at the
// configured price and tracks resulting positions.
type FakeBroker struct {
	mu         sync.Mutex
	Connected  bool
	ConnectErr error
	// ConnectSucceeds controls whether Connect restores the connection.
	ConnectSucceeds bool
	ConnectCalls    int
	Account         interfaces.AccountSummary
	AccountErr      error
	Positions       map[string]interfaces.BrokerPosition
	Prices          map[string]decimal.Decimal
	OrderErr        error
	// Unfilled accepts orders without filling them or touching positions.
	Unfilled bool
	// OrderDelay blocks PlaceMarketOrder, honouring the context.
	OrderDelay time.Duration
	// OrderAttempts counts every PlaceMarketOrder call, failed or not.
	OrderAttempts int
	Orders        []PlacedOrder
	Cancelled     []string
	nextID        int
}

func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		Connected:       true,
		ConnectSucceeds: true,
		Account: interfaces.AccountSummary{
			NetLiquidation: decimal.NewFromInt(100000),
			BuyingPower:    decimal.NewFromInt(200000),
			CashBalance:    decimal.NewFromInt(100000),
		},
		Positions: make(map[string]interfaces.BrokerPosition),
		Prices:    make(map[string]decimal.Decimal),
	}
}

func (b *FakeBroker) SetConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Connected = v
}

func (b *FakeBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Prices[symbol] = price
	if p, ok := b.Positions[symbol]; ok {
		b.Positions[symbol] = revalue(p, price)
	}
}

// SetPosition installs a position and values it at its current price.
func (b *FakeBroker) SetPosition(p interfaces.BrokerPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.CurrentPrice.IsZero() {
		p.CurrentPrice = p.AvgPrice
	}
	b.Positions[p.Symbol] = revalue(p, p.CurrentPrice)
}

func (b *FakeBroker) SetUnfilled(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Unfilled = v
}

// RemovePosition drops symbol as if an earlier order had filled.
func (b *FakeBroker) RemovePosition(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.Positions, symbol)
}

func (b *FakeBroker) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.OrderAttempts
}

func (b *FakeBroker) PlacedOrders() []PlacedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PlacedOrder(nil), b.Orders...)
}

func revalue(p interfaces.BrokerPosition, price decimal.Decimal) interfaces.BrokerPosition {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
	if cost := p.AvgPrice.Mul(decimal.NewFromInt(p.AbsQuantity())); cost.IsPositive() {
		p.UnrealizedPnLPercent = p.UnrealizedPnL.Div(cost).Mul(decimal.NewFromInt(100))
	}
	return p
}

func (b *FakeBroker) IsConnected(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Connected
}

func (b *FakeBroker) Connect(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ConnectCalls++
	if b.ConnectErr != nil {
		return false, b.ConnectErr
	}
	b.Connected = b.ConnectSucceeds
	return b.Connected, nil
}

func (b *FakeBroker) GetAccountSummary(context.Context) (*interfaces.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AccountErr != nil {
		return nil, b.AccountErr
	}
	a := b.Account
	return &a, nil
}

func (b *FakeBroker) GetPositions(context.Context) ([]interfaces.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AccountErr != nil {
		return nil, b.AccountErr
	}
	out := make([]interfaces.BrokerPosition, 0, len(b.Positions))
	for _, p := range b.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *FakeBroker) PlaceMarketOrder(ctx context.Context, symbol string, quantity int64, side interfaces.OrderSide) (*interfaces.OrderResult, error) {
	b.mu.Lock()
	b.OrderAttempts++
	delay := b.OrderDelay
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.Connected {
		return nil, errors.New("not connected")
	}
	if b.OrderErr != nil {
		return nil, b.OrderErr
	}

	b.nextID++
	id := fmt.Sprintf("ord-%d", b.nextID)
	b.Orders = append(b.Orders, PlacedOrder{OrderID: id, Symbol: symbol, Quantity: quantity, Side: side})
	if b.Unfilled {
		return &interfaces.OrderResult{OrderID: id, Status: interfaces.OrderStatusSubmitted}, nil
	}

	price, ok := b.Prices[symbol]
	if !ok {
		price = decimal.NewFromInt(100)
	}
	delta := quantity
	if side == interfaces.OrderSideSell {
		delta = -quantity
	}
	p, held := b.Positions[symbol]
	if !held {
		p = interfaces.BrokerPosition{Symbol: symbol, AvgPrice: price}
	}
	p.Quantity += delta
	if p.Quantity == 0 {
		delete(b.Positions, symbol)
	} else {
		b.Positions[symbol] = revalue(p, price)
	}
	return &interfaces.OrderResult{OrderID: id, Status: interfaces.OrderStatusFilled, FilledQty: quantity}, nil
}

func (b *FakeBroker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Cancelled = append(b.Cancelled, orderID)
	return true, nil
}

var (
	_ interfaces.MarketDataPort = (*FakeMarketData)(nil)
	_ interfaces.BrokerPort     = (*FakeBroker)(nil)
)
