package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSide defines the direction of the order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	// OrderStatusSubmitted order was accepted by the broker
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	// OrderStatusFilled order has been completely filled
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusPartiallyFilled order has been partially filled
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// OrderStatusCancelled order has been cancelled
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRejected order was rejected by the broker
	OrderStatusRejected OrderStatus = "REJECTED"
)

// AccountSummary holds the account-level balances reported by the broker.
type AccountSummary struct {
	NetLiquidation decimal.Decimal `json:"net_liquidation"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// DailyPnL is realized plus unrealized P&L for the session.
func (a AccountSummary) DailyPnL() decimal.Decimal {
	return a.RealizedPnL.Add(a.UnrealizedPnL)
}

// BrokerPosition is an open position as reported by the broker.
// A negative Quantity denotes a short position.
type BrokerPosition struct {
	Symbol               string          `json:"symbol"`
	Quantity             int64           `json:"quantity"`
	AvgPrice             decimal.Decimal `json:"avg_price"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// Side returns the side that opened the position.
func (p BrokerPosition) Side() OrderSide {
	if p.Quantity < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// AbsQuantity returns the unsigned position size.
func (p BrokerPosition) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// OrderResult is the broker acknowledgement of a market order.
type OrderResult struct {
	// OrderID identifies the order at the broker. Once obtained it is the
	// unit of idempotency for the order.
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	FilledQty int64       `json:"filled_qty"`
}

// BrokerPort is the contract for order routing and account state.
type BrokerPort interface {
	IsConnected(ctx context.Context) bool
	Connect(ctx context.Context) (bool, error)
	GetAccountSummary(ctx context.Context) (*AccountSummary, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)

	// PlaceMarketOrder submits a market order. Callers must not retry a
	// failed call blindly since the broker may have accepted it.
	PlaceMarketOrder(ctx context.Context, symbol string, quantity int64, side OrderSide) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}
