package alpaca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker implements interfaces.BrokerPort over the Alpaca trading API.
//
// Alpaca is stateless REST, so "connected" means the last request reached
// the API. IsConnected reuses that answer for probeTTL before probing the
// clock endpoint again.
type Broker struct {
	api      tradingAPI
	probeTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	connected   bool
	lastContact time.Time
}

var _ interfaces.BrokerPort = (*Broker)(nil)

// NewBroker wraps a trading client.
func NewBroker(api tradingAPI, probeTTL time.Duration, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probeTTL <= 0 {
		probeTTL = 10 * time.Second
	}
	return &Broker{api: api, probeTTL: probeTTL, logger: logger, now: time.Now}
}

// track records the outcome of an API round trip. Context errors say nothing
// about the session and are ignored.
func (b *Broker) track(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wasConnected := b.connected
	b.connected = err == nil
	if err == nil {
		b.lastContact = b.now()
		return
	}
	if wasConnected {
		b.logger.Warn("Alpaca API unreachable", zap.Error(err))
	}
}

func (b *Broker) IsConnected(ctx context.Context) bool {
	b.mu.Lock()
	fresh := b.connected && b.now().Sub(b.lastContact) < b.probeTTL
	b.mu.Unlock()
	if fresh {
		return true
	}

	_, err := call(ctx, b.api.GetClock)
	b.track(err)
	return err == nil
}

// Connect verifies credentials by reading the account.
func (b *Broker) Connect(ctx context.Context) (bool, error) {
	acct, err := call(ctx, b.api.GetAccount)
	b.track(err)
	if err != nil {
		return false, mapError("connect", err)
	}
	if acct.AccountBlocked {
		return false, fmt.Errorf("connect: account %s is blocked", acct.ID)
	}
	b.logger.Info("Connected to Alpaca", zap.String("account", acct.ID))
	return true, nil
}

// GetAccountSummary maps the account. Alpaca reports no session P&L split,
// so the whole equity change since the previous close is reported as
// realized and UnrealizedPnL stays zero; DailyPnL is unaffected.
func (b *Broker) GetAccountSummary(ctx context.Context) (*interfaces.AccountSummary, error) {
	acct, err := call(ctx, b.api.GetAccount)
	b.track(err)
	if err != nil {
		return nil, mapError("get account", err)
	}
	return &interfaces.AccountSummary{
		NetLiquidation: acct.Equity,
		BuyingPower:    acct.BuyingPower,
		CashBalance:    acct.Cash,
		RealizedPnL:    acct.Equity.Sub(acct.LastEquity),
		UnrealizedPnL:  decimal.Zero,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]interfaces.BrokerPosition, error) {
	raw, err := call(ctx, b.api.GetPositions)
	b.track(err)
	if err != nil {
		return nil, mapError("get positions", err)
	}
	out := make([]interfaces.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		out = append(out, toBrokerPosition(p))
	}
	return out, nil
}

func toBrokerPosition(p alpaca.Position) interfaces.BrokerPosition {
	qty := p.Qty.IntPart()
	if strings.EqualFold(p.Side, "short") && qty > 0 {
		qty = -qty
	}
	pos := interfaces.BrokerPosition{
		Symbol:   p.Symbol,
		Quantity: qty,
		AvgPrice: p.AvgEntryPrice,
	}
	if p.CurrentPrice != nil {
		pos.CurrentPrice = *p.CurrentPrice
	}
	if p.UnrealizedPL != nil {
		pos.UnrealizedPnL = *p.UnrealizedPL
	}
	if p.UnrealizedPLPC != nil {
		pos.UnrealizedPnLPercent = p.UnrealizedPLPC.Mul(decimal.NewFromInt(100))
	}
	return pos
}

// PlaceMarketOrder submits a day market order. Each call carries a fresh
// client order id so a request abandoned on timeout cannot be replayed as a
// second order.
func (b *Broker) PlaceMarketOrder(ctx context.Context, symbol string, quantity int64, side interfaces.OrderSide) (*interfaces.OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("place order: quantity must be positive, got %d", quantity)
	}
	qty := decimal.NewFromInt(quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qty,
		Side:          toSide(side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	}

	order, err := call(ctx, func() (*alpaca.Order, error) { return b.api.PlaceOrder(req) })
	b.track(err)
	if err != nil {
		return nil, mapError("place order", err)
	}
	if order == nil {
		return nil, fmt.Errorf("place order: empty response for %s", symbol)
	}

	b.logger.Info("Alpaca order accepted",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int64("quantity", quantity),
		zap.String("order_id", order.ID),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("status", order.Status))
	return &interfaces.OrderResult{
		OrderID:   order.ID,
		Status:    toOrderStatus(order.Status),
		FilledQty: order.FilledQty.IntPart(),
	}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	_, err := call(ctx, func() (struct{}, error) { return struct{}{}, b.api.CancelOrder(orderID) })
	b.track(err)
	if err != nil {
		return false, mapError("cancel order", err)
	}
	return true, nil
}

func toSide(s interfaces.OrderSide) alpaca.Side {
	if s == interfaces.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toOrderStatus(s string) interfaces.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return interfaces.OrderStatusFilled
	case "partially_filled":
		return interfaces.OrderStatusPartiallyFilled
	case "canceled", "cancelled", "expired":
		return interfaces.OrderStatusCancelled
	case "rejected":
		return interfaces.OrderStatusRejected
	default:
		return interfaces.OrderStatusSubmitted
	}
}
