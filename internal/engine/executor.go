package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/observability"
	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/internal/strategy"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderLocker is a cross-process mutex keyed by symbol. database.RedisClient
// implements it.
type OrderLocker interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

const orderLockPrefix = "order:lock:"

// Executor turns ranked decisions into broker orders. Every order passes the
// discipline check and the risk gate first, and at most one order per symbol
// is ever outstanding.
type Executor struct {
	broker         interfaces.BrokerPort
	marketData     interfaces.MarketDataPort
	gate           *risk.Gate
	discipline     *risk.Discipline
	positions      *position.Manager
	state          *State
	atr            *atrSource
	locker         OrderLocker
	timeout        time.Duration
	stopMultiplier decimal.Decimal
	logger         *zap.Logger
}

// Execute sizes, validates and submits one entry order. Submission failures
// are logged and returned; they are never retried.
func (e *Executor) Execute(ctx context.Context, d *strategy.AggregatedDecision) (*interfaces.OrderResult, error) {
	symbol := d.Symbol
	side := d.Action.Side()
	log := e.logger.With(zap.String("symbol", symbol), zap.String("side", string(side)))

	if !e.broker.IsConnected(ctx) {
		log.Warn("Broker disconnected, execution paused")
		return nil, ErrBrokerDisconnected
	}

	verdict, err := e.discipline.CanTrade(ctx)
	if err != nil {
		return nil, fmt.Errorf("discipline check failed: %w", err)
	}
	if !verdict.Allowed {
		e.state.AddDecision(DecisionTrade, fmt.Sprintf("Skipped %s %s: %s", side, symbol, verdict.Reason), "blocked",
			map[string]interface{}{"symbol": symbol, "reason": verdict.Reason})
		return nil, fmt.Errorf("%w: %s", ErrTradingBlocked, verdict.Reason)
	}

	if _, managed := e.positions.Get(symbol); managed {
		log.Debug("Position already managed, skipping entry")
		return nil, nil
	}
	if ex, exiting := e.state.PendingExit(symbol); exiting {
		log.Debug("Exit still pending, skipping entry", zap.String("order_id", ex.OrderID))
		return nil, nil
	}

	release, err := e.guard(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	entry := decimal.NewFromFloat(d.Price)
	var bid, ask decimal.Decimal
	if snap, err := e.marketData.GetMarketSnapshot(ctx, symbol); err != nil {
		log.Debug("No snapshot, using last close", zap.Error(err))
	} else {
		if snap.Price > 0 {
			entry = decimal.NewFromFloat(snap.Price)
		}
		if snap.HasQuote() {
			bid, ask = decimal.NewFromFloat(snap.Bid), decimal.NewFromFloat(snap.Ask)
		}
	}
	if !entry.IsPositive() {
		return nil, fmt.Errorf("%w: no price for %s", ErrTransientData, symbol)
	}

	atrValue, err := e.atr.get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	atr := decimal.NewFromFloat(atrValue)
	stopDistance := atr.Mul(e.stopMultiplier)
	stop := entry.Sub(stopDistance)
	if side == interfaces.OrderSideSell {
		stop = entry.Add(stopDistance)
	}

	account, err := e.broker.GetAccountSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: account summary: %v", ErrBrokerDisconnected, err)
	}
	held, err := e.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %v", ErrBrokerDisconnected, err)
	}

	qty := e.gate.SuggestQuantity(account.NetLiquidation, entry, stop)
	if qty <= 0 {
		e.state.AddDecision(DecisionTrade, fmt.Sprintf("Skipped %s %s: position size rounds to zero", side, symbol), "skipped",
			map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	assessment := e.gate.Evaluate(risk.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    entry,
		Bid:      bid,
		Ask:      ask,
	}, *account, held)
	if !assessment.Approved {
		e.state.AddDecision(DecisionTrade, fmt.Sprintf("Rejected %s %d %s: %s", side, qty, symbol, assessment.Reason), "rejected",
			map[string]interface{}{
				"symbol":      symbol,
				"quantity":    qty,
				"failed":      assessment.Failed(),
				"suggestions": assessment.Suggestions,
			})
		return nil, assessment.Err()
	}

	result, err := e.submit(ctx, symbol, qty, side)
	if err != nil {
		e.state.AddDecision(DecisionError, fmt.Sprintf("Order for %s failed: %v", symbol, err), "failed",
			map[string]interface{}{"symbol": symbol, "quantity": qty, "side": side})
		return nil, err
	}

	filled := qty
	if result.FilledQty > 0 {
		filled = result.FilledQty
	}
	e.state.OpenTrade(symbol, d.Strategies)
	if _, err := e.positions.Open(ctx, symbol, side, entry, filled, atr); err != nil {
		log.Error("Failed to open scale plan", zap.Error(err))
	}

	log.Info("Entry order submitted",
		zap.String("order_id", result.OrderID),
		zap.Int64("quantity", filled),
		zap.String("entry", entry.String()),
		zap.String("stop", stop.String()))
	e.state.AddDecision(DecisionTrade, fmt.Sprintf("%s %d %s @ %s", side, filled, symbol, entry.StringFixed(2)), "submitted",
		map[string]interface{}{
			"symbol":     symbol,
			"order_id":   result.OrderID,
			"quantity":   filled,
			"confidence": d.Confidence,
			"strategies": d.Strategies,
			"reasoning":  d.Reasoning,
			"warnings":   assessment.Warnings,
		})
	return result, nil
}

// Close submits an exit order for quantity shares on the closing side.
func (e *Executor) Close(ctx context.Context, symbol string, quantity int64, side interfaces.OrderSide, reason string) (*interfaces.OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("close quantity must be positive, got %d", quantity)
	}
	release, err := e.guard(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := e.submit(ctx, symbol, quantity, side)
	if err != nil {
		e.state.AddDecision(DecisionError, fmt.Sprintf("Close for %s failed: %v", symbol, err), "failed",
			map[string]interface{}{"symbol": symbol, "quantity": quantity, "reason": reason})
		return nil, err
	}
	e.logger.Info("Exit order submitted",
		zap.String("symbol", symbol),
		zap.String("order_id", result.OrderID),
		zap.Int64("quantity", quantity),
		zap.String("reason", reason))
	e.state.AddDecision(DecisionClose, fmt.Sprintf("%s %d %s (%s)", side, quantity, symbol, reason), "submitted",
		map[string]interface{}{"symbol": symbol, "order_id": result.OrderID, "quantity": quantity, "reason": reason})
	return result, nil
}

// guard claims the in-process slot and, when a locker is configured, the
// shared lock for symbol. The returned func releases both.
func (e *Executor) guard(ctx context.Context, symbol string) (func(), error) {
	if !e.state.TryBeginOrder(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrOrderInFlight, symbol)
	}
	if e.locker == nil {
		return func() { e.state.EndOrder(symbol) }, nil
	}

	key := orderLockPrefix + symbol
	token, ok, err := e.locker.AcquireLock(ctx, key, 3*e.timeout)
	if err != nil {
		// Fall back to the in-process guard alone.
		e.logger.Warn("Order lock unavailable, using local guard only",
			zap.String("symbol", symbol), zap.Error(err))
		return func() { e.state.EndOrder(symbol) }, nil
	}
	if !ok {
		e.state.EndOrder(symbol)
		return nil, fmt.Errorf("%w: %s locked by another process", ErrOrderInFlight, symbol)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := e.locker.ReleaseLock(releaseCtx, key, token); err != nil {
			e.logger.Warn("Failed to release order lock", zap.String("symbol", symbol), zap.Error(err))
		}
		e.state.EndOrder(symbol)
	}, nil
}

func (e *Executor) submit(ctx context.Context, symbol string, quantity int64, side interfaces.OrderSide) (*interfaces.OrderResult, error) {
	octx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.broker.PlaceMarketOrder(octx, symbol, quantity, side)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %s: no response within %s", ErrOrderSubmission, symbol, e.timeout)
	case err != nil:
		err = fmt.Errorf("%w: %s: %v", ErrOrderSubmission, symbol, err)
	case result == nil:
		err = fmt.Errorf("%w: %s: empty broker response", ErrOrderSubmission, symbol)
	case result.Status == interfaces.OrderStatusRejected || result.Status == interfaces.OrderStatusCancelled:
		err = fmt.Errorf("%w: %s: order %s %s", ErrOrderSubmission, symbol, result.OrderID, result.Status)
	}
	if err != nil {
		e.logger.Error("Order submission failed",
			zap.String("symbol", symbol),
			zap.Int64("quantity", quantity),
			zap.String("side", string(side)),
			zap.Error(err))
		observability.CaptureException(ctx, err, map[string]string{"component": "executor", "symbol": symbol})
		return nil, err
	}
	return result, nil
}
