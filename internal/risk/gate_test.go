package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/irfndi/neuratrade-intraday/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	summary   interfaces.AccountSummary
	positions []interfaces.BrokerPosition
	err       error
}

func (f *fakeAccount) GetAccountSummary(context.Context) (*interfaces.AccountSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.summary
	return &s, nil
}

func (f *fakeAccount) GetPositions(context.Context) ([]interfaces.BrokerPosition, error) {
	return f.positions, f.err
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func healthyAccount() interfaces.AccountSummary {
	return interfaces.AccountSummary{
		NetLiquidation: d(100000),
		BuyingPower:    d(200000),
		CashBalance:    d(100000),
	}
}

func order(qty int64, price float64) OrderRequest {
	return OrderRequest{Symbol: "AAPL", Side: interfaces.OrderSideBuy, Quantity: qty, Price: d(price)}
}

func TestGate_ApprovesHealthyOrder(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)

	a := g.Evaluate(order(50, 100), healthyAccount(), nil)
	assert.True(t, a.Approved)
	assert.Empty(t, a.Reason)
	assert.Len(t, a.Checks, 5)
	assert.NoError(t, a.Err())
	assert.True(t, a.OrderValue.Equal(d(5000)))
}

func TestGate_DailyLossLimit(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)

	for _, pnl := range []float64{-500, -500.01, -750, -10000} {
		t.Run(fmt.Sprintf("pnl_%v", pnl), func(t *testing.T) {
			account := healthyAccount()
			account.RealizedPnL = d(pnl)

			a := g.Evaluate(order(10, 100), account, nil)
			assert.False(t, a.Approved)
			assert.Contains(t, a.Reason, "daily loss limit")
			assert.Contains(t, a.Failed(), CheckDailyLoss)
			assert.True(t, a.Checks[0].Critical)
		})
	}
}

func TestGate_DailyLossWarning(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	account := healthyAccount()
	account.RealizedPnL = d(-300)
	account.UnrealizedPnL = d(-110)

	a := g.Evaluate(order(10, 100), account, nil)
	assert.True(t, a.Approved)
	require.Len(t, a.Warnings, 1)
	assert.Contains(t, a.Warnings[0], "near the daily loss limit")
}

func TestGate_DailyPnLOverride(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	req := order(10, 100)
	pnl := d(-600)
	req.DailyPnL = &pnl

	a := g.Evaluate(req, healthyAccount(), nil)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Reason, "daily loss limit")
}

func TestGate_PositionSizeLimit(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)

	cases := []struct {
		qty      int64
		price    float64
		approved bool
	}{
		{100, 100, true},  // exactly 10%
		{101, 100, false}, // 10.1%
		{1, 10001, false},
		{2000, 5, true},
		{2001, 5, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%dx%v", tc.qty, tc.price), func(t *testing.T) {
			a := g.Evaluate(order(tc.qty, tc.price), healthyAccount(), nil)
			assert.Equal(t, tc.approved, a.Approved, a.Reason)
			if !tc.approved {
				assert.Contains(t, a.Failed(), CheckPositionSize)
			}
		})
	}

	a := g.Evaluate(order(150, 100), healthyAccount(), nil)
	assert.Contains(t, a.Suggestions, "reduce quantity to 100")
}

func TestGate_CollectsEveryFailure(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	account := healthyAccount()
	account.RealizedPnL = d(-900)
	account.BuyingPower = d(1000)

	req := order(200, 100)
	req.Bid, req.Ask = d(99), d(101)

	a := g.Evaluate(req, account, nil)
	assert.False(t, a.Approved)
	assert.ElementsMatch(t,
		[]CheckName{CheckDailyLoss, CheckPositionSize, CheckBuyingPower, CheckSpread},
		a.Failed())
	assert.Contains(t, a.Reason, "daily loss limit")
	assert.Contains(t, a.Reason, "position size")
	assert.Contains(t, a.Reason, "insufficient buying power")
	assert.Contains(t, a.Reason, "spread")

	var rej *RejectionError
	require.True(t, errors.As(a.Err(), &rej))
	assert.Equal(t, a, rej.Assessment)
}

func TestGate_ConcurrentPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPositions = 2
	g := NewGate(cfg, nil, nil)

	positions := []interfaces.BrokerPosition{
		{Symbol: "MSFT", Quantity: 10},
		{Symbol: "TSLA", Quantity: -5},
		{Symbol: "NVDA", Quantity: 0},
	}

	a := g.Evaluate(order(10, 100), healthyAccount(), positions)
	assert.False(t, a.Approved)
	assert.Contains(t, a.Reason, "max concurrent positions")

	add := order(10, 100)
	add.Symbol = "MSFT"
	a = g.Evaluate(add, healthyAccount(), positions)
	assert.True(t, a.Approved)
}

func TestGate_SpreadSkippedWhenUnknown(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	a := g.Evaluate(order(10, 100), healthyAccount(), nil)

	spread := a.Checks[4]
	assert.Equal(t, CheckSpread, spread.Name)
	assert.True(t, spread.Skipped)

	tight := order(10, 100)
	tight.Bid, tight.Ask = d(99.98), d(100.02)
	a = g.Evaluate(tight, healthyAccount(), nil)
	assert.True(t, a.Approved)
	assert.False(t, a.Checks[4].Skipped)
}

func TestGate_SettersReadOnEveryCheck(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	account := healthyAccount()
	account.RealizedPnL = d(-200)

	assert.True(t, g.Evaluate(order(10, 100), account, nil).Approved)

	g.SetMaxDailyLoss(d(200))
	assert.False(t, g.Evaluate(order(10, 100), account, nil).Approved)

	g.SetMaxDailyLoss(d(1000))
	g.SetMaxPositionSizePercent(d(0.5))
	a := g.Evaluate(order(10, 100), account, nil)
	assert.False(t, a.Approved)
	assert.Equal(t, []CheckName{CheckPositionSize}, a.Failed())

	g.SetMaxConcurrentPositions(1)
	g.SetRiskPerTradePercent(d(2))
	g.SetMaxTradesPerDay(4)
	g.SetMaxConsecutiveLosses(2)
	cfg := g.Config()
	assert.Equal(t, 1, cfg.MaxConcurrentPositions)
	assert.True(t, cfg.RiskPerTradePercent.Equal(d(2)))
	assert.Equal(t, 4, cfg.MaxTradesPerDay)
	assert.Equal(t, 2, cfg.MaxConsecutiveLosses)
}

func TestGate_SettersReachDiscipline(t *testing.T) {
	ctx := context.Background()
	g := NewGate(DefaultConfig(), nil, nil)
	cfg := DefaultDisciplineConfig()
	cfg.Location = time.UTC
	disc := NewDiscipline(cfg, nil, nil)
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	disc.SetClock(func() time.Time { return now })
	g.OnChange(disc.ApplyRiskLimits)

	g.SetMaxTradesPerDay(1)
	g.SetMaxConsecutiveLosses(1)
	g.SetMaxDailyLoss(d(50))

	limits := disc.Config()
	assert.Equal(t, 1, limits.MaxTradesPerDay)
	assert.Equal(t, 1, limits.MaxConsecutiveLosses)
	assert.True(t, limits.MaxDailyLoss.Equal(d(50)))

	out, err := disc.RecordTrade(ctx, d(-20))
	require.NoError(t, err)
	assert.Contains(t, out.Actions, ActionExtendedCooldown, "one loss is a streak at limit 1")
	assert.False(t, out.State.Halted)

	out, err = disc.RecordTrade(ctx, d(-30))
	require.NoError(t, err)
	assert.True(t, out.State.Halted)
	assert.Equal(t, HaltDailyLossLimit, out.State.HaltReason)

	now = now.Add(time.Hour)
	v, err := disc.CanTrade(ctx)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestGate_TradeCapReachesDiscipline(t *testing.T) {
	ctx := context.Background()
	g := NewGate(DefaultConfig(), nil, nil)
	disc := NewDiscipline(DefaultDisciplineConfig(), nil, nil)
	g.OnChange(disc.ApplyRiskLimits)

	g.SetMaxTradesPerDay(1)
	_, err := disc.RecordTrade(ctx, d(10))
	require.NoError(t, err)

	v, err := disc.CanTrade(ctx)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "max trades per day reached (1)")
}

func TestGate_Validate(t *testing.T) {
	account := &fakeAccount{summary: healthyAccount(), positions: []interfaces.BrokerPosition{{Symbol: "MSFT", Quantity: 1}}}
	g := NewGate(DefaultConfig(), account, nil)

	a, err := g.Validate(context.Background(), order(10, 100))
	require.NoError(t, err)
	assert.True(t, a.Approved)

	account.err = errors.New("broker offline")
	_, err = g.Validate(context.Background(), order(10, 100))
	assert.ErrorContains(t, err, "broker offline")

	m := g.Metrics()
	assert.Equal(t, int64(1), m.TotalChecks)
	assert.Equal(t, int64(1), m.Approved)
}

func TestGate_Metrics(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)
	g.Evaluate(order(10, 100), healthyAccount(), nil)
	g.Evaluate(order(1000, 100), healthyAccount(), nil)

	m := g.Metrics()
	assert.Equal(t, int64(2), m.TotalChecks)
	assert.Equal(t, int64(1), m.Rejected)
	assert.Equal(t, int64(1), m.RejectionsByCheck[CheckPositionSize])
}

func TestGate_SuggestQuantity(t *testing.T) {
	g := NewGate(DefaultConfig(), nil, nil)

	// 1% of 100000 risked over a 4.00 stop is 250 shares, capped at 10% of the account
	assert.Equal(t, int64(100), g.SuggestQuantity(d(100000), d(100), d(96)))

	g.SetMaxPositionSizePercent(d(50))
	assert.Equal(t, int64(250), g.SuggestQuantity(d(100000), d(100), d(96)))

	assert.Equal(t, int64(0), g.SuggestQuantity(d(100000), d(100), d(100)))
	assert.Equal(t, int64(0), g.SuggestQuantity(decimal.Zero, d(100), d(96)))
}
