package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/neuratrade-intraday/internal/position"
	"github.com/irfndi/neuratrade-intraday/internal/risk"
	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// exitConfirmTimeout bounds how long a symbol is left alone after an exit
// order was accepted without the position changing.
const exitConfirmTimeout = 2 * time.Minute

// PositionMonitor walks open positions. Positions with a scale plan follow
// its stop and ladder; the rest close when they breach the posture thresholds.
type PositionMonitor struct {
	broker     interfaces.BrokerPort
	positions  *position.Manager
	discipline *risk.Discipline
	executor   *Executor
	state      *State
	atr        *atrSource
	params     func() position.ThresholdParams
	logger     *zap.Logger
}

// RunOnce performs one monitoring pass.
func (m *PositionMonitor) RunOnce(ctx context.Context) error {
	if !m.broker.IsConnected(ctx) {
		m.logger.Debug("Broker disconnected, skipping position check")
		return nil
	}

	if account, err := m.broker.GetAccountSummary(ctx); err == nil {
		before := m.discipline.State(ctx).Halted
		halted, err := m.discipline.SyncDailyPnL(ctx, account.DailyPnL())
		if err != nil {
			m.logger.Warn("Failed to sync daily P&L", zap.Error(err))
		} else if halted && !before {
			st := m.discipline.State(ctx)
			m.state.AddDecision(DecisionSystem, "Trading halted: "+st.HaltReason, "halted",
				map[string]interface{}{"daily_pnl": st.DailyPnL.String()})
		}
	}

	held, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%w: positions: %v", ErrBrokerDisconnected, err)
	}

	open := make(map[string]bool, len(held))
	for _, p := range held {
		if p.Quantity != 0 {
			open[p.Symbol] = true
		}
	}
	for _, symbol := range m.positions.Reconcile(ctx, open) {
		m.finishTrade(ctx, symbol)
	}
	m.state.Settle(open)

	params := m.params()
	for _, p := range held {
		if p.Quantity == 0 || m.exiting(p) {
			continue
		}
		if err := m.check(ctx, p, params); err != nil {
			m.logger.Warn("Position check failed", zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}
	return nil
}

// exiting reports whether an accepted exit for p is still waiting on the
// broker. A partial exit is done once the quantity drops and a final one once
// the position is flat. Markers older than exitConfirmTimeout are dropped so a
// cancelled order gets resubmitted.
func (m *PositionMonitor) exiting(p interfaces.BrokerPosition) bool {
	ex, ok := m.state.PendingExit(p.Symbol)
	if !ok {
		return false
	}
	if !ex.Final && p.AbsQuantity() < ex.Held {
		m.state.ClearExit(p.Symbol)
		return false
	}
	if age := m.state.Now().Sub(ex.Since); age >= exitConfirmTimeout {
		m.logger.Warn("Exit order not reflected in position, resubmitting",
			zap.String("symbol", p.Symbol),
			zap.String("order_id", ex.OrderID),
			zap.Int64("held", p.AbsQuantity()),
			zap.Duration("age", age))
		m.state.ClearExit(p.Symbol)
		return false
	}
	m.logger.Debug("Exit pending, skipping position",
		zap.String("symbol", p.Symbol), zap.String("order_id", ex.OrderID))
	return true
}

func (m *PositionMonitor) check(ctx context.Context, p interfaces.BrokerPosition, params position.ThresholdParams) error {
	atr, err := m.atr.get(ctx, p.Symbol)
	if err != nil {
		return err
	}

	// A scale plan owns the exits of the positions it manages.
	if _, managed := m.positions.Get(p.Symbol); !managed {
		th, ok := position.ComputeThresholds(atr, p.CurrentPrice.InexactFloat64(), params)
		if !ok {
			return nil
		}
		if breach := th.Breached(p.UnrealizedPnLPercent.InexactFloat64()); breach != "" {
			if err := m.exit(ctx, p, p.AbsQuantity(), breach+" threshold", true); err != nil {
				return err
			}
			m.finish(ctx, p.Symbol)
		}
		return nil
	}

	update, err := m.positions.OnPrice(ctx, p.Symbol, p.CurrentPrice, decimal.NewFromFloat(atr))
	if err != nil {
		return err
	}
	if update.StopHit {
		if err := m.exit(ctx, p, p.AbsQuantity(), "scale plan stop", true); err != nil {
			return err
		}
		m.finish(ctx, p.Symbol)
		return nil
	}

	remaining := p.AbsQuantity()
	for i, a := range update.ScaleActions {
		qty := min(a.Quantity, remaining)
		if qty <= 0 {
			continue
		}
		last := i == len(update.ScaleActions)-1
		final := qty == remaining || (last && update.Remaining == 0)
		if err := m.exit(ctx, p, qty, fmt.Sprintf("scale out level %d", a.Level+1), final); err != nil {
			return err
		}
		remaining -= qty
		if _, err := m.positions.CommitScale(ctx, p.Symbol, a.Level); err != nil {
			m.logger.Warn("Failed to commit scale level", zap.String("symbol", p.Symbol), zap.Error(err))
		}
		if final {
			m.finish(ctx, p.Symbol)
			return nil
		}
	}
	if update.StopRaised {
		m.logger.Info("Stop raised", zap.String("symbol", p.Symbol), zap.String("stop", update.Stop.String()))
	}
	return nil
}

// exit submits a reducing order and books its P&L against the round trip.
func (m *PositionMonitor) exit(ctx context.Context, p interfaces.BrokerPosition, quantity int64, reason string, final bool) error {
	result, err := m.executor.Close(ctx, p.Symbol, quantity, p.Side().Opposite(), reason)
	if err != nil {
		return err
	}
	m.state.BeginExit(p.Symbol, result.OrderID, p.AbsQuantity(), final)

	perShare := p.CurrentPrice.Sub(p.AvgPrice)
	if p.Quantity < 0 {
		perShare = perShare.Neg()
	}
	m.state.AddRealized(p.Symbol, perShare.Mul(decimal.NewFromInt(quantity)).InexactFloat64())
	return nil
}

// finish drops the plan and closes the round trip after a final exit.
func (m *PositionMonitor) finish(ctx context.Context, symbol string) {
	if err := m.positions.Close(ctx, symbol); err != nil {
		m.logger.Warn("Failed to drop scale plan", zap.String("symbol", symbol), zap.Error(err))
	}
	m.finishTrade(ctx, symbol)
}

func (m *PositionMonitor) finishTrade(ctx context.Context, symbol string) {
	pnl, ok := m.state.CloseTrade(symbol)
	if !ok {
		return
	}
	outcome, err := m.discipline.RecordTrade(ctx, decimal.NewFromFloat(pnl))
	if err != nil {
		m.logger.Warn("Failed to record trade outcome", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	m.logger.Info("Trade closed",
		zap.String("symbol", symbol),
		zap.Float64("pnl", pnl),
		zap.Any("actions", outcome.Actions))
	if outcome.State.Halted {
		m.state.AddDecision(DecisionSystem, "Trading halted: "+outcome.State.HaltReason, "halted",
			map[string]interface{}{"symbol": symbol, "daily_pnl": outcome.State.DailyPnL.String()})
	}
}
